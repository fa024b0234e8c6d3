package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/elements"
	"github.com/MarcoPoloResearchLab/inkroom/internal/relay"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultOutboundBuffer = 256
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = (pongWait * 9) / 10
)

var (
	// ErrSessionClosed is returned when sending on a closed session.
	ErrSessionClosed = errors.New("client: session closed")
	errOutboundFull  = errors.New("client: outbound queue full")
)

// Handlers receive server messages on the session's read goroutine, one at a
// time, in arrival order. Nil handlers are skipped.
type Handlers struct {
	OnInit   func(ctx context.Context, roomID string, snapshot []elements.Element)
	OnEvent  func(roomID string, event elements.Event)
	OnJoined func(roomID, userID string)
	OnLeft   func(roomID, userID string)
	OnCursor func(roomID, userID string, position elements.Point)
	OnError  func(reason string)
}

// Merge returns handlers that call h then other for every message.
func (h Handlers) Merge(other Handlers) Handlers {
	return Handlers{
		OnInit: func(ctx context.Context, roomID string, snapshot []elements.Element) {
			if h.OnInit != nil {
				h.OnInit(ctx, roomID, snapshot)
			}
			if other.OnInit != nil {
				other.OnInit(ctx, roomID, snapshot)
			}
		},
		OnEvent: func(roomID string, event elements.Event) {
			if h.OnEvent != nil {
				h.OnEvent(roomID, event)
			}
			if other.OnEvent != nil {
				other.OnEvent(roomID, event)
			}
		},
		OnJoined: func(roomID, userID string) {
			if h.OnJoined != nil {
				h.OnJoined(roomID, userID)
			}
			if other.OnJoined != nil {
				other.OnJoined(roomID, userID)
			}
		},
		OnLeft: func(roomID, userID string) {
			if h.OnLeft != nil {
				h.OnLeft(roomID, userID)
			}
			if other.OnLeft != nil {
				other.OnLeft(roomID, userID)
			}
		},
		OnCursor: func(roomID, userID string, position elements.Point) {
			if h.OnCursor != nil {
				h.OnCursor(roomID, userID, position)
			}
			if other.OnCursor != nil {
				other.OnCursor(roomID, userID, position)
			}
		},
		OnError: func(reason string) {
			if h.OnError != nil {
				h.OnError(reason)
			}
			if other.OnError != nil {
				other.OnError(reason)
			}
		},
	}
}

// SessionConfig describes how to reach the relay.
type SessionConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/ws.
	URL            string
	AccessToken    string
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
	OutboundBuffer int
}

// outboundFrame is either an envelope to write or, when flushed is set, a
// marker acknowledged once every earlier frame has been written.
type outboundFrame struct {
	envelope relay.Envelope
	flushed  chan struct{}
}

// Session is one websocket connection to the relay. Sends are fire-and-forget:
// they are queued without blocking and dropped if the queue is full or the
// connection is gone.
type Session struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	outbound  chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once
	handlers  Handlers
}

// Dial opens the connection. Call Handle and then Run before joining.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("client: invalid url: %w", err)
	}
	if cfg.AccessToken != "" {
		query := endpoint.Query()
		query.Set("access_token", cfg.AccessToken)
		endpoint.RawQuery = query.Encode()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, response, err := dialer.DialContext(ctx, endpoint.String(), http.Header{})
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial failed: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bufferSize := cfg.OutboundBuffer
	if bufferSize <= 0 {
		bufferSize = defaultOutboundBuffer
	}
	return &Session{
		conn:     conn,
		logger:   logger,
		outbound: make(chan outboundFrame, bufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Handle installs message handlers. It must be called before Run.
func (s *Session) Handle(handlers Handlers) {
	s.handlers = handlers
}

// Run pumps messages until ctx is cancelled or the connection fails, then
// closes the session.
func (s *Session) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		errCh <- s.writeLoop(ctx)
	}()
	go func() {
		errCh <- s.readLoop(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	_ = s.Close()
	return err
}

// Join asks the relay to add userID to roomID.
func (s *Session) Join(roomID, userID string) error {
	return s.enqueue(relay.JoinEnvelope(roomID, userID))
}

// Send implements Sender.
func (s *Session) Send(roomID string, event elements.Event) {
	if err := s.enqueue(relay.EditEnvelope(roomID, event)); err != nil {
		s.logger.Debug("event dropped",
			zap.String("room_id", roomID),
			zap.String("element_id", event.TargetID()),
			zap.Error(err))
	}
}

// SendCursor publishes a presence update.
func (s *Session) SendCursor(roomID, userID string, position elements.Point) {
	if err := s.enqueue(relay.CursorEnvelope(roomID, userID, position)); err != nil {
		s.logger.Debug("cursor dropped", zap.String("room_id", roomID), zap.Error(err))
	}
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the connection down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		err = s.conn.Close()
	})
	return err
}

// Flush waits until everything queued before the call has been written.
func (s *Session) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	select {
	case s.outbound <- outboundFrame{flushed: flushed}:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-flushed:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) enqueue(envelope relay.Envelope) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.outbound <- outboundFrame{envelope: envelope}:
		return nil
	default:
		return errOutboundFull
	}
}

func (s *Session) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case frame := <-s.outbound:
			if frame.flushed != nil {
				close(frame.flushed)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(frame.envelope); err != nil {
				return fmt.Errorf("client: write failed: %w", err)
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return fmt.Errorf("client: ping failed: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return fmt.Errorf("client: read failed: %w", err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		var envelope relay.Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			s.logger.Warn("malformed server message ignored", zap.Error(err))
			continue
		}
		s.dispatch(ctx, envelope)
	}
}

func (s *Session) dispatch(ctx context.Context, envelope relay.Envelope) {
	handlers := s.handlers
	switch envelope.Type {
	case relay.MessageRoomInit:
		if handlers.OnInit != nil {
			handlers.OnInit(ctx, envelope.RoomID, envelope.Elements)
		}
	case relay.MessageCanvasEvent:
		if handlers.OnEvent != nil && envelope.Event != nil {
			handlers.OnEvent(envelope.RoomID, *envelope.Event)
		}
	case relay.MessageUserJoined:
		if handlers.OnJoined != nil {
			handlers.OnJoined(envelope.RoomID, envelope.UserID)
		}
	case relay.MessageUserLeft:
		if handlers.OnLeft != nil {
			handlers.OnLeft(envelope.RoomID, envelope.UserID)
		}
	case relay.MessageCursorMove:
		if handlers.OnCursor != nil && envelope.Position != nil {
			handlers.OnCursor(envelope.RoomID, envelope.UserID, *envelope.Position)
		}
	case relay.MessageError:
		if handlers.OnError != nil {
			handlers.OnError(envelope.Error)
		}
	default:
		s.logger.Debug("unknown message ignored", zap.String("message_type", string(envelope.Type)))
	}
}
