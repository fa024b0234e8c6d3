package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/relay"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20

	reasonMalformedMessage = "malformed message"
	reasonUnknownType      = "unknown message type"
	reasonMissingRoom      = "room id is required"
	reasonUserMismatch     = "user id does not match access token"
	reasonMissingEvent     = "event is required"
	reasonMissingPosition  = "position is required"
)

// wsPeer is one websocket connection registered with the hub. Envelopes are
// queued on outbound and written by a single writer goroutine.
type wsPeer struct {
	id        string
	userID    string
	conn      *websocket.Conn
	outbound  chan relay.Envelope
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func newWSPeer(conn *websocket.Conn, userID string, bufferSize int, logger *zap.Logger) *wsPeer {
	id := uuid.NewString()
	return &wsPeer{
		id:       id,
		userID:   userID,
		conn:     conn,
		outbound: make(chan relay.Envelope, bufferSize),
		done:     make(chan struct{}),
		logger:   logger.With(zap.String("connection_id", id), zap.String("user_id", userID)),
	}
}

// ID implements relay.Peer.
func (p *wsPeer) ID() string {
	return p.id
}

// Deliver implements relay.Peer. It never blocks; a full queue drops the envelope.
func (p *wsPeer) Deliver(envelope relay.Envelope) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.outbound <- envelope:
		return true
	default:
		return false
	}
}

func (p *wsPeer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *wsPeer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()
	for {
		select {
		case <-p.done:
			return
		case envelope := <-p.outbound:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(envelope); err != nil {
				p.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				p.logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		}
	}
}

// readPump forwards client messages to the hub in arrival order until the
// connection fails or the hub stops.
func (p *wsPeer) readPump(hub *relay.Hub) {
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))

		var envelope relay.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			p.reject(reasonMalformedMessage, err)
			continue
		}
		if err := p.dispatch(hub, envelope); err != nil {
			p.logger.Info("relay unavailable", zap.Error(err))
			return
		}
	}
}

func (p *wsPeer) dispatch(hub *relay.Hub, envelope relay.Envelope) error {
	roomID := strings.TrimSpace(envelope.RoomID)
	switch envelope.Type {
	case relay.MessageJoinRoom:
		if roomID == "" {
			p.reject(reasonMissingRoom, nil)
			return nil
		}
		if envelope.UserID != p.userID {
			p.reject(reasonUserMismatch, nil)
			return nil
		}
		return hub.Join(p, roomID, p.userID)
	case relay.MessageCanvasEvent:
		if roomID == "" {
			p.reject(reasonMissingRoom, nil)
			return nil
		}
		if envelope.Event == nil {
			p.reject(reasonMissingEvent, nil)
			return nil
		}
		return hub.Edit(p, roomID, *envelope.Event)
	case relay.MessageCursorMove:
		if envelope.Position == nil {
			p.reject(reasonMissingPosition, nil)
			return nil
		}
		return hub.Cursor(p, roomID, p.userID, *envelope.Position)
	default:
		p.reject(reasonUnknownType, nil)
		return nil
	}
}

func (p *wsPeer) reject(reason string, cause error) {
	fields := []zap.Field{zap.String("reason", reason)}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	p.logger.Debug("client message rejected", fields...)
	p.Deliver(relay.ErrorEnvelope(reason))
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowAll || origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

func (h *httpHandler) handleWebsocket(c *gin.Context) {
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		token = bearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("websocket token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if h.identities != nil {
		if err := h.identities.Touch(c.Request.Context(), userID); err != nil {
			h.logger.Debug("participant last-seen update failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	peer := newWSPeer(conn, userID, h.outboundBuffer, h.logger)
	peer.logger.Debug("websocket connected")
	go peer.writePump()
	peer.readPump(h.hub)

	if err := h.hub.Leave(peer); err != nil {
		peer.logger.Debug("leave after disconnect skipped", zap.Error(err))
	}
	peer.close()
	peer.logger.Debug("websocket disconnected")
}
