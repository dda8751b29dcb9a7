// Package events maintains the long-lived subscription to the upstream event
// channel and forwards revoke notifications into the revocation path.
//
// The subscriber is a connection supervisor with three states
// (disconnected -> connecting -> connected) and a single transition rule:
// any disconnect waits a fixed interval and reconnects unconditionally. The
// link must eventually recover; there is no backoff growth and no retry cap.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultBackoff = 5 * time.Second
	maxReadBytes   = 1 << 20 // 1MiB
)

// State is the supervisor's connection state, exposed for observability.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Revoker is the single revocation path shared with the explicit endpoint.
type Revoker interface {
	Revoke(ctx context.Context, token string) bool
}

// Conn is the minimal connection surface the supervisor needs; it exists so
// tests can drive the read loop without a live websocket server.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// DialFunc establishes one connection attempt.
type DialFunc func(ctx context.Context) (Conn, error)

// Subscriber owns the persistent event-channel connection.
type Subscriber struct {
	log     *slog.Logger
	revoker Revoker
	dial    DialFunc
	topic   string
	backoff time.Duration

	state       atomic.Value // State
	onReconnect func()
}

// Option configures the Subscriber.
type Option func(*Subscriber)

// WithBackoff overrides the fixed reconnect wait (test acceleration).
func WithBackoff(d time.Duration) Option {
	return func(s *Subscriber) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithTopic overrides the subscribed event topic.
func WithTopic(topic string) Option {
	return func(s *Subscriber) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithReconnectHook registers a callback fired on every reconnect wait,
// used for the reconnect counter metric.
func WithReconnectHook(fn func()) Option {
	return func(s *Subscriber) {
		if fn != nil {
			s.onReconnect = fn
		}
	}
}

// NewSubscriber constructs a Subscriber using the given dialer.
func NewSubscriber(log *slog.Logger, revoker Revoker, dial DialFunc, opts ...Option) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	s := &Subscriber{
		log:     log,
		revoker: revoker,
		dial:    dial,
		topic:   DefaultTopic,
		backoff: defaultBackoff,
	}
	s.state.Store(StateDisconnected)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// NewWebsocketDialer returns a DialFunc that connects to url with a bearer
// Authorization header, the way the upstream event channel authenticates.
func NewWebsocketDialer(url, bearer string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		h := http.Header{}
		if bearer != "" {
			h.Set("Authorization", "Bearer "+bearer)
		}
		conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: h})
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		conn.SetReadLimit(maxReadBytes)
		return wsConn{conn: conn}, nil
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// State returns the current connection state.
func (s *Subscriber) State() State {
	return s.state.Load().(State)
}

// Run blocks until ctx is canceled, supervising the connection. Dial and
// handshake failures are logged and retried; they are never fatal to the
// hosting process.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.state.Store(StateDisconnected)
			return err
		}

		s.state.Store(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			s.log.Warn("events.ws.dial.fail", "err", err, "retry_in", s.backoff)
			if !s.wait(ctx) {
				return ctx.Err()
			}
			continue
		}

		err = s.serve(ctx, conn)
		_ = conn.Close()
		s.state.Store(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Warn("events.ws.disconnected", "err", err, "retry_in", s.backoff)
		if !s.wait(ctx) {
			return ctx.Err()
		}
	}
}

// serve subscribes and pumps messages until the connection breaks.
func (s *Subscriber) serve(ctx context.Context, conn Conn) error {
	sub, err := json.Marshal(subscribeRequest{ID: 1, Type: msgTypeSubscribe, EventType: s.topic})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, sub); err != nil {
		return err
	}

	s.state.Store(StateConnected)
	s.log.Info("events.ws.connected", "topic", s.topic)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handleMessage(ctx, data)
	}
}

// handleMessage processes one inbound frame. Malformed frames are logged and
// skipped; they never tear down the connection.
func (s *Subscriber) handleMessage(ctx context.Context, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn("events.ws.bad_frame", "err", err)
		return
	}
	if env.Type != msgTypeEvent || env.Event.EventType != s.topic {
		return
	}

	token := env.Event.Data.TokenToRevoke
	if token == "" {
		s.log.Warn("events.revoke.missing_token")
		return
	}

	if s.revoker.Revoke(ctx, token) {
		s.log.Info("events.revoke.applied")
	} else {
		s.log.Info("events.revoke.no_match")
	}
}

// wait sleeps the fixed backoff; false means ctx was canceled.
func (s *Subscriber) wait(ctx context.Context) bool {
	if s.onReconnect != nil {
		s.onReconnect()
	}
	t := time.NewTimer(s.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
