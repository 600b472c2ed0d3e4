package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/infrastructure/cache"
	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryThrottle(clock *fakeClock) *Throttle {
	return NewThrottle(NewMemoryStore(clock), clock, nil, 0)
}

func mustCanSend(t *testing.T, th *Throttle, tier, nodeID, msg string) bool {
	t.Helper()
	ok, err := th.CanSend(context.Background(), tier, nodeID, msg)
	if err != nil {
		t.Fatalf("CanSend() error = %v", err)
	}
	return ok
}

func mustMarkSent(t *testing.T, th *Throttle, tier, nodeID, msg string) {
	t.Helper()
	if err := th.MarkSent(context.Background(), tier, nodeID, msg); err != nil {
		t.Fatalf("MarkSent() error = %v", err)
	}
}

// =============================================================================
// Throttle Tests
// =============================================================================

func TestThrottle_HourlyCap(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)

	// Distinct nodes so only the hourly cap applies.
	nodes := []string{"n1", "n2", "n3", "n4", "n5", "n6"}
	for i, id := range nodes[:5] {
		if !mustCanSend(t, th, TierCritical, id, "pH out of range") {
			t.Fatalf("critical #%d refused", i+1)
		}
		mustMarkSent(t, th, TierCritical, id, "pH out of range")
	}
	if mustCanSend(t, th, TierCritical, nodes[5], "pH out of range") {
		t.Error("6th critical in one hour allowed")
	}
	if d, _ := th.Check(context.Background(), TierCritical, nodes[5], "x"); d != HourlyLimit {
		t.Errorf("Check() = %s, want %s", d, HourlyLimit)
	}

	// Other tiers keep their own budget.
	if !mustCanSend(t, th, TierWarning, nodes[5], "pH out of range") {
		t.Error("warning tier blocked by critical cap")
	}

	clock.Advance(time.Hour)
	if !mustCanSend(t, th, TierCritical, nodes[5], "pH out of range") {
		t.Error("critical still blocked in the next hour")
	}
}

func TestThrottle_MinInterval(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)

	mustMarkSent(t, th, TierInfo, "climate_007", "first")

	clock.Advance(59 * time.Second)
	if mustCanSend(t, th, TierInfo, "climate_007", "second") {
		t.Error("allowed inside the 60s minimum interval")
	}
	if !mustCanSend(t, th, TierInfo, "relay_1", "second") {
		t.Error("interval applied across nodes")
	}

	clock.Advance(time.Second)
	if !mustCanSend(t, th, TierInfo, "climate_007", "second") {
		t.Error("refused at exactly the minimum interval")
	}
}

func TestThrottle_Duplicate(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)
	msg := "Node climate_007 went offline"

	if !mustCanSend(t, th, TierWarning, "climate_007", msg) {
		t.Fatal("first CanSend() = false")
	}
	// CanSend alone records nothing.
	if !mustCanSend(t, th, TierWarning, "climate_007", msg) {
		t.Fatal("CanSend() marked the message")
	}

	mustMarkSent(t, th, TierWarning, "climate_007", msg)

	// Past the min interval, still inside the duplicate window.
	clock.Advance(10 * time.Minute)
	if d, _ := th.Check(context.Background(), TierWarning, "climate_007", msg); d != Duplicate {
		t.Errorf("Check() = %s, want %s", d, Duplicate)
	}
	if !mustCanSend(t, th, TierWarning, "climate_007", "Node climate_007 back online") {
		t.Error("different text treated as duplicate")
	}

	clock.Advance(21 * time.Minute)
	if !mustCanSend(t, th, TierWarning, "climate_007", msg) {
		t.Error("duplicate still suppressed after the window")
	}
}

func TestThrottle_UnknownTierUsesInfo(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)

	mustMarkSent(t, th, "debug", "n1", "hello")
	stats, err := th.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats[TierInfo].SentThisHour != 1 {
		t.Errorf("info sent = %d, want 1", stats[TierInfo].SentThisHour)
	}
	if _, ok := stats["debug"]; ok {
		t.Error("unknown tier reported in stats")
	}
}

func TestThrottle_ConfiguredPolicies(t *testing.T) {
	clock := newFakeClock()
	cfg := config.ThrottleConfig{Tiers: map[string]config.TierConfig{
		TierCritical: {MaxPerHour: 1, MinInterval: time.Second},
	}}
	th := NewThrottle(NewMemoryStore(clock), clock, PoliciesFromConfig(cfg), time.Minute)

	mustMarkSent(t, th, TierCritical, "n1", "a")
	if mustCanSend(t, th, TierCritical, "n2", "b") {
		t.Error("configured max_per_hour=1 not applied")
	}

	stats, _ := th.Stats(context.Background())
	if stats[TierWarning].MaxPerHour != 10 {
		t.Errorf("warning default lost: %+v", stats[TierWarning])
	}
}

func TestThrottle_StatsAndReset(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)
	ctx := context.Background()

	mustMarkSent(t, th, TierCritical, "n1", "a")
	mustMarkSent(t, th, TierCritical, "n2", "b")
	mustMarkSent(t, th, TierWarning, "n1", "c")

	stats, err := th.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats[TierCritical].SentThisHour != 2 || stats[TierWarning].SentThisHour != 1 ||
		stats[TierCritical].MaxPerHour != 5 || stats[TierCritical].MinInterval != 300*time.Second {
		t.Errorf("Stats() = %+v", stats)
	}

	n, err := th.Reset(ctx)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if n == 0 {
		t.Error("Reset() removed no keys")
	}
	stats, _ = th.Stats(ctx)
	if stats[TierCritical].SentThisHour != 0 {
		t.Errorf("after Reset() = %+v", stats[TierCritical])
	}
	if !mustCanSend(t, th, TierCritical, "n1", "a") {
		t.Error("CanSend() false after Reset()")
	}
}

// =============================================================================
// Redis Store Tests
// =============================================================================

func newRedisThrottle(t *testing.T, clock *fakeClock) (*Throttle, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "hydro")
	t.Cleanup(func() { client.Close() }) //nolint:errcheck // Test cleanup
	return NewThrottle(NewRedisStore(client), clock, nil, 0), mr
}

func TestRedisStore_Throttle(t *testing.T) {
	clock := newFakeClock()
	th, mr := newRedisThrottle(t, clock)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		mustMarkSent(t, th, TierCritical, id, "tank empty")
	}
	if mustCanSend(t, th, TierCritical, "f", "tank empty") {
		t.Error("6th critical allowed with redis store")
	}

	key := "hydro:throttle:critical:hour:" + clock.Now().Format(hourBucket)
	if got, err := mr.Get(key); err != nil || got != "5" {
		t.Errorf("counter %s = %q, %v", key, got, err)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
		t.Errorf("counter ttl = %v", ttl)
	}

	// Duplicate marker expires with the window.
	mustMarkSent(t, th, TierWarning, "g", "tank low")
	clock.Advance(5 * time.Minute)
	if mustCanSend(t, th, TierWarning, "g", "tank low") {
		t.Error("duplicate allowed inside window")
	}
	mr.FastForward(31 * time.Minute)
	if !mustCanSend(t, th, TierWarning, "g", "tank low") {
		t.Error("duplicate still blocked after redis expiry")
	}

	n, err := th.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if n == 0 || len(mr.Keys()) != 0 {
		t.Errorf("Reset() = %d, keys left %v", n, mr.Keys())
	}
}

func TestRedisStore_Unavailable(t *testing.T) {
	clock := newFakeClock()
	th, mr := newRedisThrottle(t, clock)
	mr.Close()

	if _, err := th.CanSend(context.Background(), TierInfo, "n1", "x"); err == nil {
		t.Error("CanSend() error = nil with redis down")
	}
}

// =============================================================================
// Dispatcher Tests
// =============================================================================

type fakeChannel struct {
	name     string
	critical bool
	err      error
	sent     []Alert
}

func (c *fakeChannel) Name() string       { return c.name }
func (c *fakeChannel) CriticalOnly() bool { return c.critical }
func (c *fakeChannel) Send(_ context.Context, tier, nodeID, message string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, Alert{Tier: tier, NodeID: nodeID, Message: message})
	return nil
}

func TestDispatcher_Notify(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)
	chat := &fakeChannel{name: "chat"}
	sms := &fakeChannel{name: "sms", critical: true}
	d := NewDispatcher(th, chat, sms)
	ctx := context.Background()

	sent, err := d.Notify(ctx, TierWarning, "relay_1", "Node relay_1 went offline")
	if err != nil || !sent {
		t.Fatalf("Notify() = %v, %v", sent, err)
	}
	if len(chat.sent) != 1 || len(sms.sent) != 0 {
		t.Errorf("chat=%d sms=%d, want 1/0", len(chat.sent), len(sms.sent))
	}

	sent, _ = d.Notify(ctx, TierWarning, "relay_1", "Node relay_1 went offline")
	if sent {
		t.Error("repeat inside min interval sent")
	}

	sent, _ = d.Notify(ctx, TierCritical, "ph_001", "Event: pump stuck (Node: ph_001)")
	if !sent || len(sms.sent) != 1 {
		t.Errorf("critical not delivered to sms: sent=%v sms=%d", sent, len(sms.sent))
	}
}

func TestDispatcher_AllChannelsFail(t *testing.T) {
	clock := newFakeClock()
	th := newMemoryThrottle(clock)
	d := NewDispatcher(th, &fakeChannel{name: "chat", err: errors.New("bot token revoked")})
	ctx := context.Background()

	sent, err := d.Notify(ctx, TierInfo, "n1", "hello")
	if sent || err == nil {
		t.Fatalf("Notify() = %v, %v; want false and error", sent, err)
	}
	// Nothing was marked, so the message may go out once a channel recovers.
	if !mustCanSend(t, th, TierInfo, "n1", "hello") {
		t.Error("failed delivery was recorded by MarkSent")
	}
}

func TestSinkChannel(t *testing.T) {
	var got []string
	sink := event.SinkFunc(func(name string, payload any) {
		a := payload.(Alert)
		got = append(got, name+"|"+a.Tier+"|"+a.Message)
	})

	d := NewDispatcher(newMemoryThrottle(newFakeClock()), NewSinkChannel(sink), NewLogChannel(nil))
	if _, err := d.Notify(context.Background(), TierCritical, "n1", "boom"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(got) != 1 || got[0] != event.NotificationSent+"|critical|boom" {
		t.Errorf("emitted = %v", got)
	}
}

func TestTierMapping(t *testing.T) {
	levels := map[string]string{
		"critical": TierCritical, "emergency": TierCritical,
		"warning": TierWarning, "error": TierWarning,
		"info": TierInfo, "": TierInfo,
	}
	for in, want := range levels {
		if got := TierForEventLevel(in); got != want {
			t.Errorf("TierForEventLevel(%q) = %s, want %s", in, got, want)
		}
	}

	severities := map[string]string{
		"critical": TierCritical, "high": TierWarning, "medium": TierWarning,
		"low": TierInfo, "": TierInfo,
	}
	for in, want := range severities {
		if got := TierForErrorSeverity(in); got != want {
			t.Errorf("TierForErrorSeverity(%q) = %s, want %s", in, got, want)
		}
	}
}
