package origin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"go.uber.org/zap"
)

// LogNotification is one logsSubscribe notification.
type LogNotification struct {
	Signature string
	Slot      uint64
	Err       json.RawMessage
	Logs      []string
}

// LogHandler receives notifications. It runs on the read loop and must not block.
type LogHandler func(LogNotification)

// LogSubscriber streams program log notifications over the origin WebSocket
// endpoint, reconnecting until its context ends.
type LogSubscriber struct {
	endpoint     string
	programID    string
	commitment   string
	pingInterval time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration
	dialer       *websocket.Dialer
	logger       *zap.Logger
}

type SubscriberOption func(*LogSubscriber)

func WithSubscriberLogger(logger *zap.Logger) SubscriberOption {
	return func(s *LogSubscriber) {
		s.logger = logger
	}
}

// WithReconnectBackoff bounds the delay between reconnection attempts.
func WithReconnectBackoff(initial, limit time.Duration) SubscriberOption {
	return func(s *LogSubscriber) {
		s.minBackoff = initial
		s.maxBackoff = limit
	}
}

func WithPingInterval(d time.Duration) SubscriberOption {
	return func(s *LogSubscriber) {
		s.pingInterval = d
	}
}

func NewLogSubscriber(endpoint, programID, commitment string, options ...SubscriberOption) *LogSubscriber {
	s := &LogSubscriber{
		endpoint:     endpoint,
		programID:    programID,
		commitment:   commitment,
		pingInterval: 30 * time.Second,
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
		dialer:       websocket.DefaultDialer,
	}
	for _, option := range options {
		option(s)
	}
	s.logger = logging.Or(s.logger).With(zap.String("component", "log-subscriber"))
	return s
}

// Run subscribes and delivers notifications to handle until ctx is done.
// Connection failures are logged and retried with exponential backoff.
func (s *LogSubscriber) Run(ctx context.Context, handle LogHandler) error {
	backoff := s.minBackoff
	for {
		start := time.Now()
		err := s.runOnce(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		// a connection that stayed up for a while resets the backoff
		if time.Since(start) > s.maxBackoff {
			backoff = s.minBackoff
		}
		s.logger.Warn("log subscription dropped, reconnecting",
			zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

type wsMessage struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string          `json:"signature"`
				Err       json.RawMessage `json:"err"`
				Logs      []string        `json:"logs"`
			} `json:"value"`
		} `json:"result"`
		Subscription int64 `json:"subscription"`
	} `json:"params"`
}

func (s *LogSubscriber) runOnce(ctx context.Context, handle LogHandler) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", s.endpoint)
	}
	defer conn.Close()

	// unblock ReadJSON when the context ends
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{s.programID}},
			map[string]any{"commitment": s.commitment},
		},
	}
	if err := conn.WriteJSON(req); err != nil {
		return errors.Wrap(err, "send logsSubscribe")
	}

	if s.pingInterval > 0 {
		go s.keepAlive(conn, stop)
	}

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "read notification")
		}
		switch {
		case msg.Error != nil:
			return errors.Errorf("subscription error %d: %s", msg.Error.Code, msg.Error.Message)
		case msg.ID != nil:
			s.logger.Info("subscribed to program logs",
				zap.String("program", s.programID), zap.ByteString("subscription", msg.Result))
		case msg.Method == "logsNotification" && msg.Params != nil:
			v := msg.Params.Result.Value
			handle(LogNotification{
				Signature: v.Signature,
				Slot:      msg.Params.Result.Context.Slot,
				Err:       v.Err,
				Logs:      v.Logs,
			})
		}
	}
}

func (s *LogSubscriber) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
