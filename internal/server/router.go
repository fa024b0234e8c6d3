package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/history"
	"github.com/MarcoPoloResearchLab/inkroom/internal/identity"
	"github.com/MarcoPoloResearchLab/inkroom/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	userIDContextKey      = "inkroom_user_id"
	defaultOutboundBuffer = 256
)

var (
	errMissingHub           = errors.New("relay hub dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingIdentities    = errors.New("identity service dependency required")
	errMissingHistoryStore  = errors.New("history store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates participant access tokens.
type TokenManager interface {
	IssueParticipantToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// IdentityService provisions participants and records their activity.
type IdentityService interface {
	Provision(ctx context.Context, displayName string) (identity.Identity, error)
	Lookup(ctx context.Context, userID string) (identity.Identity, error)
	Touch(ctx context.Context, userID string) error
}

// Dependencies wires the HTTP surface to the relay and its stores.
type Dependencies struct {
	Hub            *relay.Hub
	TokenManager   TokenManager
	Identities     IdentityService
	Histories      history.Store
	Logger         *zap.Logger
	AllowedOrigins []string
	OutboundBuffer int
}

// NewHTTPHandler builds the gin router wrapped in request logging.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Identities == nil {
		return nil, errMissingIdentities
	}
	if deps.Histories == nil {
		return nil, errMissingHistoryStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	bufferSize := deps.OutboundBuffer
	if bufferSize <= 0 {
		bufferSize = defaultOutboundBuffer
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		hub:            deps.Hub,
		tokens:         deps.TokenManager,
		identities:     deps.Identities,
		histories:      deps.Histories,
		logger:         logger,
		upgrader:       newUpgrader(origins),
		outboundBuffer: bufferSize,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/identities", handler.handleProvisionIdentity)
	router.GET("/rooms/:roomId/elements", handler.handleRoomElements)
	router.GET("/ws", handler.handleWebsocket)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/identities/me", handler.handleCurrentIdentity)
	protected.GET("/rooms/:roomId/history/:userId", handler.handleLoadHistory)
	protected.PUT("/rooms/:roomId/history/:userId", handler.handleSaveHistory)

	return logRequests(router, logger), nil
}

type httpHandler struct {
	hub            *relay.Hub
	tokens         TokenManager
	identities     IdentityService
	histories      history.Store
	logger         *zap.Logger
	upgrader       websocket.Upgrader
	outboundBuffer int
}

type healthResponsePayload struct {
	Status string `json:"status"`
	Rooms  int    `json:"rooms"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	count, err := h.hub.RoomCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay_unavailable"})
		return
	}
	c.JSON(http.StatusOK, healthResponsePayload{Status: "ok", Rooms: count})
}

type identityRequestPayload struct {
	DisplayName string `json:"display_name"`
}

type identityResponsePayload struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleProvisionIdentity(c *gin.Context) {
	var request identityRequestPayload
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	participant, err := h.identities.Provision(c.Request.Context(), request.DisplayName)
	if errors.Is(err, identity.ErrInvalidDisplayName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_display_name"})
		return
	}
	if err != nil {
		h.logger.Error("failed to provision participant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provision_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueParticipantToken(c.Request.Context(), participant.UserID)
	if err != nil {
		h.logger.Error("failed to issue participant token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, identityResponsePayload{
		UserID:      participant.UserID,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type profileResponsePayload struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *httpHandler) handleCurrentIdentity(c *gin.Context) {
	participant, err := h.identities.Lookup(c.Request.Context(), c.GetString(userIDContextKey))
	if errors.Is(err, identity.ErrUnknownIdentity) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_identity"})
		return
	}
	if err != nil {
		h.logger.Error("failed to look up participant", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, profileResponsePayload{
		UserID:      participant.UserID,
		DisplayName: participant.DisplayName,
		LastSeenAt:  participant.LastSeenAt,
		CreatedAt:   participant.CreatedAt,
	})
}

type elementsResponsePayload struct {
	RoomID   string             `json:"roomId"`
	Elements []elements.Element `json:"elements"`
}

func (h *httpHandler) handleRoomElements(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	snapshot, err := h.hub.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "relay_unavailable"})
		return
	}
	if snapshot == nil {
		snapshot = []elements.Element{}
	}
	c.JSON(http.StatusOK, elementsResponsePayload{RoomID: roomID, Elements: snapshot})
}

func (h *httpHandler) handleLoadHistory(c *gin.Context) {
	key, ok := h.historyKey(c)
	if !ok {
		return
	}
	stack, err := h.histories.Load(c.Request.Context(), key)
	switch {
	case err == nil:
	case errors.Is(err, history.ErrNotFound):
		stack = history.EmptyStack()
	case errors.Is(err, history.ErrCorruptRecord):
		h.logger.Warn("corrupt history served as empty",
			zap.String("room_id", key.RoomID),
			zap.String("user_id", key.UserID),
			zap.Error(err))
		stack = history.EmptyStack()
	default:
		h.logger.Error("failed to load history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_load_failed"})
		return
	}
	c.JSON(http.StatusOK, stack.Clone())
}

func (h *httpHandler) handleSaveHistory(c *gin.Context) {
	key, ok := h.historyKey(c)
	if !ok {
		return
	}
	var stack history.Stack
	if err := c.ShouldBindJSON(&stack); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.histories.Save(c.Request.Context(), key, stack); err != nil {
		h.logger.Error("failed to save history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_save_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) historyKey(c *gin.Context) (history.Key, bool) {
	key, err := history.NewKey(c.Param("roomId"), c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_key"})
		return history.Key{}, false
	}
	if key.UserID != c.GetString(userIDContextKey) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return history.Key{}, false
	}
	return key, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := bearerToken(c.GetHeader("Authorization"))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
