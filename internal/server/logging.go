package server

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"go.uber.org/zap"
)

// logRequests records method, path, status and latency for every request.
// The query string is left out because it may carry an access token.
func logRequests(handler http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		metrics := httpsnoop.CaptureMetrics(handler, writer, request)
		logger.Info("http request handled",
			zap.String("method", request.Method),
			zap.String("path", request.URL.Path),
			zap.Int("status", metrics.Code),
			zap.Int64("bytes", metrics.Written),
			zap.Duration("duration", metrics.Duration))
	})
}
