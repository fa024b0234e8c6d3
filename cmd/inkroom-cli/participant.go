package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MarcoPoloResearchLab/inkroom/internal/client"
	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/history"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var errMissingCredentials = errors.New("--room, --user-id and --token are required")

// participant is a joined session with its canvas, ready for gestures.
type participant struct {
	session *client.Session
	canvas  *client.Canvas
	logger  *zap.Logger
	cancel  context.CancelFunc
}

func openParticipant(ctx context.Context, configViper *viper.Viper) (*participant, error) {
	roomID := strings.TrimSpace(configViper.GetString("room"))
	userID := strings.TrimSpace(configViper.GetString("user-id"))
	token := strings.TrimSpace(configViper.GetString("token"))
	if roomID == "" || userID == "" || token == "" {
		return nil, errMissingCredentials
	}
	baseURL := strings.TrimRight(configViper.GetString("server"), "/")

	logger, err := newLogger(configViper)
	if err != nil {
		return nil, err
	}

	remote, err := history.NewHTTPStore(history.HTTPStoreConfig{BaseURL: baseURL, AccessToken: token})
	if err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	session, err := client.Dial(sessionCtx, client.SessionConfig{
		URL:         websocketURL(baseURL),
		AccessToken: token,
		Logger:      logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	canvas, err := client.NewCanvas(client.CanvasConfig{
		RoomID:  roomID,
		UserID:  userID,
		Sender:  session,
		History: history.NewSafeStore(remote, logger),
		Logger:  logger,
	})
	if err != nil {
		cancel()
		_ = session.Close()
		return nil, err
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	session.Handle(canvas.Handlers().Merge(client.Handlers{
		OnInit: func(_ context.Context, initRoomID string, snapshot []elements.Element) {
			if initRoomID == roomID {
				readyOnce.Do(func() { close(ready) })
			}
		},
		OnEvent: func(eventRoomID string, event elements.Event) {
			logger.Info("canvas event",
				zap.String("room_id", eventRoomID),
				zap.String("event", string(event.Kind)),
				zap.String("element_id", event.TargetID()))
		},
		OnJoined: func(joinedRoomID, joinedUserID string) {
			logger.Info("participant joined", zap.String("room_id", joinedRoomID), zap.String("user_id", joinedUserID))
		},
		OnLeft: func(leftRoomID, leftUserID string) {
			logger.Info("participant left", zap.String("room_id", leftRoomID), zap.String("user_id", leftUserID))
		},
		OnCursor: func(cursorRoomID, cursorUserID string, position elements.Point) {
			logger.Debug("cursor moved",
				zap.String("room_id", cursorRoomID),
				zap.String("user_id", cursorUserID),
				zap.Float64("x", position.X),
				zap.Float64("y", position.Y))
		},
		OnError: func(reason string) {
			logger.Warn("relay rejected a message", zap.String("reason", reason))
		},
	}))
	go func() {
		if err := session.Run(sessionCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("session ended", zap.Error(err))
		}
	}()

	if err := session.Join(roomID, userID); err != nil {
		cancel()
		return nil, err
	}

	joinCtx, cancelJoin := context.WithTimeout(ctx, joinTimeout)
	defer cancelJoin()
	select {
	case <-ready:
	case <-session.Done():
		cancel()
		return nil, fmt.Errorf("connection closed before room %s was joined", roomID)
	case <-joinCtx.Done():
		cancel()
		return nil, fmt.Errorf("joining room %s: %w", roomID, joinCtx.Err())
	}

	return &participant{session: session, canvas: canvas, logger: logger, cancel: cancel}, nil
}

func (p *participant) moveCursor(position elements.Point) {
	p.session.SendCursor(p.canvas.RoomID(), p.canvas.UserID(), position)
}

// flush waits for queued edits to reach the relay and history to reach the
// store.
func (p *participant) flush(ctx context.Context) error {
	if err := p.session.Flush(ctx); err != nil {
		return err
	}
	return p.canvas.FlushHistory(ctx)
}

func (p *participant) close() {
	p.cancel()
	_ = p.session.Close()
	_ = p.logger.Sync()
}

func websocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	default:
		return baseURL + "/ws"
	}
}
