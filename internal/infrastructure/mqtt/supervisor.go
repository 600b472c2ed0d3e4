package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

// Session is one live broker connection as the Supervisor uses it.
// *Client implements Session.
type Session interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Drive(ctx context.Context, blocking bool) (int, error)
	Close() error
}

// Dialer opens a new Session.
type Dialer func(ctx context.Context) (Session, error)

// ClientDialer returns a Dialer that connects real clients from cfg.
func ClientDialer(cfg config.MQTTConfig, logger Logger) Dialer {
	return func(ctx context.Context) (Session, error) {
		c, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if logger != nil {
			c.SetLogger(logger)
		}
		return c, nil
	}
}

// Supervisor owns the bus connection lifecycle.
//
// Run dials a session, subscribes every Router route and drives the session
// until it fails. It then waits Delay and dials again. MaxAttempts bounds
// consecutive failed attempts (0 = unbounded). The count resets only after
// every route is subscribed; a dial or subscribe failure spends an attempt.
//
// While a session is live the Supervisor also publishes on it, so command
// senders depend on the Supervisor rather than on a single Client.
type Supervisor struct {
	router      *Router
	dial        Dialer
	delay       time.Duration
	maxAttempts int

	mu      sync.RWMutex
	current Session

	logger Logger
}

// NewSupervisor creates a Supervisor for the router's routes.
func NewSupervisor(router *Router, dial Dialer, reconnect config.MQTTReconnectConfig) *Supervisor {
	return &Supervisor{
		router:      router,
		dial:        dial,
		delay:       reconnect.Delay,
		maxAttempts: reconnect.MaxAttempts,
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for connection lifecycle messages.
func (s *Supervisor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Run blocks until ctx is cancelled (returning nil) or the attempt budget
// is spent (returning ErrReconnectExhausted wrapping the last error).
func (s *Supervisor) Run(ctx context.Context) error {
	attempts := 0

	for {
		healthy, err := s.runSession(ctx)
		if ctx.Err() != nil {
			return nil //nolint:nilerr // cancellation is a clean exit
		}

		if healthy {
			attempts = 0
		}
		attempts++

		s.logger.Warn("MQTT session ended",
			"error", err,
			"attempt", attempts,
			"max_attempts", s.maxAttempts,
		)

		if s.maxAttempts > 0 && attempts >= s.maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectExhausted, attempts, err)
		}

		timer := time.NewTimer(s.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runSession dials, subscribes and drives one session.
// healthy reports whether every route was subscribed before the session ended.
func (s *Supervisor) runSession(ctx context.Context) (healthy bool, err error) {
	sess, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		s.setCurrent(nil)
		if cerr := sess.Close(); cerr != nil {
			s.logger.Warn("closing MQTT session", "error", cerr)
		}
	}()

	for _, route := range s.router.Routes() {
		if err := sess.Subscribe(route.Pattern, route.QoS, route.Handler); err != nil {
			return false, fmt.Errorf("subscribing %s: %w", route.Pattern, err)
		}
	}

	s.setCurrent(sess)
	s.logger.Info("MQTT session established", "routes", len(s.router.Routes()))

	for {
		if _, err := sess.Drive(ctx, true); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true, nil
			}
			return true, err
		}
	}
}

func (s *Supervisor) setCurrent(sess Session) {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()
}

// Publish sends on the live session.
func (s *Supervisor) Publish(topic string, payload []byte, qos byte, retained bool) error {
	s.mu.RLock()
	sess := s.current
	s.mu.RUnlock()

	if sess == nil {
		return ErrNotConnected
	}
	return sess.Publish(topic, payload, qos, retained)
}

// Connected reports whether a subscribed session is live.
func (s *Supervisor) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// HealthCheck returns ErrNotConnected while no session is live.
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !s.Connected() {
		return ErrNotConnected
	}
	return nil
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Info(string, ...any)  {}
