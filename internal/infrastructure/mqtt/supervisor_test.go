package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

// fakeSession is an in-memory Session. Messages pushed with deliver are
// handed to the subscribed handler on the next Drive; drop ends the session.
type fakeSession struct {
	mu         sync.Mutex
	subscribed []string
	published  []string
	handlers   map[string]MessageHandler
	queue      chan [2]string
	lost       chan struct{}
	closed     bool
	subErr     error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handlers: make(map[string]MessageHandler),
		queue:    make(chan [2]string, 16),
		lost:     make(chan struct{}),
	}
}

func (f *fakeSession) Subscribe(topic string, _ byte, h MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subscribed = append(f.subscribed, topic)
	f.handlers[topic] = h
	return nil
}

func (f *fakeSession) Publish(topic string, _ []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	return nil
}

func (f *fakeSession) Drive(ctx context.Context, _ bool) (int, error) {
	select {
	case m := <-f.queue:
		f.mu.Lock()
		h := f.handlers[m[0]]
		f.mu.Unlock()
		if h != nil {
			_ = h(m[1], nil)
		}
		return 1, nil
	case <-f.lost:
		return 0, ErrConnectionLost
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) drop() { close(f.lost) }

func (f *fakeSession) deliver(pattern, topic string) { f.queue <- [2]string{pattern, topic} }

func (f *fakeSession) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// scriptedDialer hands out results in order: a nil session means "fail".
type scriptedDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	calls    int
	dialed   chan *fakeSession
}

func (d *scriptedDialer) dial(context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.calls
	d.calls++
	if i >= len(d.sessions) || d.sessions[i] == nil {
		return nil, ErrConnectionFailed
	}
	if d.dialed != nil {
		d.dialed <- d.sessions[i]
	}
	return d.sessions[i], nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testRouter(t *testing.T) (*Router, chan string) {
	t.Helper()
	r := NewRouter()
	hits := make(chan string, 16)
	h := func(topic string, _ []byte) error {
		hits <- topic
		return nil
	}
	for _, p := range []string{"hydro/telemetry/#", "hydro/heartbeat/#", "hydro/discovery"} {
		if err := r.Handle(p, 0, h); err != nil {
			t.Fatalf("Handle(%q) error = %v", p, err)
		}
	}
	return r, hits
}

func waitHit(t *testing.T, hits chan string, want string) {
	t.Helper()
	select {
	case got := <-hits:
		if got != want {
			t.Errorf("handled %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler for %q never ran", want)
	}
}

func reconnect(delay time.Duration, maxAttempts int) config.MQTTReconnectConfig {
	return config.MQTTReconnectConfig{Delay: delay, MaxAttempts: maxAttempts}
}

// =============================================================================
// Supervisor Tests
// =============================================================================

func TestSupervisor_GivesUpAfterMaxAttempts(t *testing.T) {
	router, _ := testRouter(t)
	d := &scriptedDialer{}
	s := NewSupervisor(router, d.dial, reconnect(time.Millisecond, 3))

	err := s.Run(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Run() error = %v, want ErrReconnectExhausted", err)
	}
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Run() error = %v, want last dial error wrapped", err)
	}
	if d.callCount() != 3 {
		t.Errorf("dial called %d times, want 3", d.callCount())
	}
}

func TestSupervisor_ResubscribesEveryRouteOnReconnect(t *testing.T) {
	router, hits := testRouter(t)
	first, second := newFakeSession(), newFakeSession()
	d := &scriptedDialer{
		sessions: []*fakeSession{first, nil, second},
		dialed:   make(chan *fakeSession, 3),
	}
	s := NewSupervisor(router, d.dial, reconnect(time.Millisecond, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-d.dialed
	first.deliver("hydro/telemetry/#", "hydro/telemetry/ph_001")
	waitHit(t, hits, "hydro/telemetry/ph_001")
	first.drop()

	<-d.dialed
	second.deliver("hydro/discovery", "hydro/discovery")
	waitHit(t, hits, "hydro/discovery")

	deadline := time.After(2 * time.Second)
	for !s.Connected() || len(second.subscriptions()) < 3 {
		select {
		case <-deadline:
			t.Fatal("second session never became healthy")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() after cancel = %v, want nil", err)
	}

	for _, sess := range []*fakeSession{first, second} {
		if got := len(sess.subscriptions()); got != 3 {
			t.Errorf("session subscribed %d routes, want 3", got)
		}
		if !sess.isClosed() {
			t.Error("session not closed after it ended")
		}
	}
}

func TestSupervisor_ConnectResetsAttemptCounter(t *testing.T) {
	router, _ := testRouter(t)
	s1, s2 := newFakeSession(), newFakeSession()
	s1.drop()
	s2.drop()
	// fail, connect+drop, connect+drop, fail: each connect resets the count,
	// so the budget of 2 is only spent on the fourth dial.
	d := &scriptedDialer{sessions: []*fakeSession{nil, s1, s2, nil}}
	s := NewSupervisor(router, d.dial, reconnect(time.Millisecond, 2))

	err := s.Run(context.Background())
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Run() error = %v, want ErrReconnectExhausted", err)
	}
	if d.callCount() != 4 {
		t.Errorf("dial called %d times, want 4", d.callCount())
	}
}

func TestSupervisor_SubscribeFailureEndsSession(t *testing.T) {
	router, _ := testRouter(t)
	bad := newFakeSession()
	bad.subErr = ErrSubscribeFailed
	d := &scriptedDialer{sessions: []*fakeSession{bad}}
	s := NewSupervisor(router, d.dial, reconnect(time.Millisecond, 1))

	err := s.Run(context.Background())
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Run() error = %v, want ErrSubscribeFailed", err)
	}
	if !bad.isClosed() {
		t.Error("session with failed subscribe was not closed")
	}
	if s.Connected() {
		t.Error("Connected() = true after failed subscribe")
	}
}

func TestSupervisor_RepeatedSubscribeFailureSpendsBudget(t *testing.T) {
	router, _ := testRouter(t)
	sessions := make([]*fakeSession, 3)
	for i := range sessions {
		sessions[i] = newFakeSession()
		sessions[i].subErr = ErrSubscribeFailed
	}
	d := &scriptedDialer{sessions: sessions}
	s := NewSupervisor(router, d.dial, reconnect(time.Millisecond, 3))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx)
	if !errors.Is(err, ErrReconnectExhausted) {
		t.Fatalf("Run() error = %v, want ErrReconnectExhausted", err)
	}
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Run() error = %v, want wrapped ErrSubscribeFailed", err)
	}
	if d.callCount() != 3 {
		t.Errorf("dial called %d times, want 3", d.callCount())
	}
	for i, sess := range sessions {
		if !sess.isClosed() {
			t.Errorf("session %d not closed", i)
		}
	}
}

func TestSupervisor_PublishUsesLiveSession(t *testing.T) {
	router, _ := testRouter(t)
	sess := newFakeSession()
	d := &scriptedDialer{sessions: []*fakeSession{sess}, dialed: make(chan *fakeSession, 1)}
	s := NewSupervisor(router, d.dial, reconnect(time.Millisecond, 0))

	if err := s.Publish("hydro/command/n1", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() before connect = %v, want ErrNotConnected", err)
	}
	if err := s.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() before connect = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-d.dialed

	deadline := time.After(2 * time.Second)
	for !s.Connected() {
		select {
		case <-deadline:
			t.Fatal("session never became live")
		case <-time.After(time.Millisecond):
		}
	}

	if err := s.Publish("hydro/command/n1", []byte("{}"), 1, false); err != nil {
		t.Errorf("Publish() = %v", err)
	}
	cancel()
	<-done

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.published) != 1 || sess.published[0] != "hydro/command/n1" {
		t.Errorf("published = %v", sess.published)
	}
}
