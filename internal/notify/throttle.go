package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
)

// Severity tiers.
const (
	TierCritical = "critical"
	TierWarning  = "warning"
	TierInfo     = "info"
)

// Tiers lists the tiers in descending severity.
var Tiers = []string{TierCritical, TierWarning, TierInfo}

const (
	// DefaultDuplicateWindow is how long an identical message is suppressed.
	DefaultDuplicateWindow = 30 * time.Minute

	keyPrefix   = "throttle:"
	hourlyTTL   = time.Hour
	hourBucket  = "2006010215"
	hashDigits  = 16
	lastSentTTL = time.Hour
)

// Policy limits one tier.
type Policy struct {
	MaxPerHour  int           `json:"max_per_hour"`
	MinInterval time.Duration `json:"min_interval"`
}

// DefaultPolicies returns the built-in tier limits.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		TierCritical: {MaxPerHour: 5, MinInterval: 300 * time.Second},
		TierWarning:  {MaxPerHour: 10, MinInterval: 180 * time.Second},
		TierInfo:     {MaxPerHour: 20, MinInterval: 60 * time.Second},
	}
}

// Decision explains a CanSend verdict.
type Decision string

// CanSend verdicts.
const (
	Allowed     Decision = "allowed"
	HourlyLimit Decision = "hourly_limit"
	TooSoon     Decision = "min_interval"
	Duplicate   Decision = "duplicate"
)

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Throttle rate-limits and deduplicates alerts per tier.
//
// CanSend only reads; callers record a delivery with MarkSent. Two callers
// racing between the two may both send, which the limits tolerate.
type Throttle struct {
	store     Store
	clock     Clock
	policies  map[string]Policy
	dupWindow time.Duration
	logger    Logger
}

// NewThrottle creates a throttle. Missing tiers fall back to the defaults;
// a nil clock uses SystemClock.
func NewThrottle(store Store, clock Clock, policies map[string]Policy, dupWindow time.Duration) *Throttle {
	if clock == nil {
		clock = SystemClock{}
	}
	merged := DefaultPolicies()
	for tier, p := range policies {
		merged[tier] = p
	}
	if dupWindow <= 0 {
		dupWindow = DefaultDuplicateWindow
	}
	return &Throttle{
		store:     store,
		clock:     clock,
		policies:  merged,
		dupWindow: dupWindow,
		logger:    noopLogger{},
	}
}

// PoliciesFromConfig converts configured tiers.
func PoliciesFromConfig(cfg config.ThrottleConfig) map[string]Policy {
	policies := make(map[string]Policy, len(cfg.Tiers))
	for tier, t := range cfg.Tiers {
		policies[tier] = Policy{MaxPerHour: t.MaxPerHour, MinInterval: t.MinInterval}
	}
	return policies
}

// SetLogger sets the logger.
func (t *Throttle) SetLogger(logger Logger) {
	t.logger = logger
}

// policy returns the tier's limits; unknown tiers use info.
func (t *Throttle) policy(tier string) (string, Policy) {
	if p, ok := t.policies[tier]; ok {
		return tier, p
	}
	return TierInfo, t.policies[TierInfo]
}

func hourKey(tier string, now time.Time) string {
	return keyPrefix + tier + ":hour:" + now.UTC().Format(hourBucket)
}

func lastKey(tier, nodeID string) string {
	return keyPrefix + tier + ":last:" + nodeID
}

func dupKey(tier, nodeID, message string) string {
	sum := sha256.Sum256([]byte(tier + "\x00" + nodeID + "\x00" + message))
	return keyPrefix + tier + ":dup:" + nodeID + ":" + hex.EncodeToString(sum[:])[:hashDigits]
}

// Check runs the gates in order: hourly cap, minimum interval for the
// node, duplicate message.
func (t *Throttle) Check(ctx context.Context, tier, nodeID, message string) (Decision, error) {
	tier, p := t.policy(tier)
	now := t.clock.Now()

	count, _, err := t.store.Get(ctx, hourKey(tier, now))
	if err != nil {
		return "", err
	}
	if count != "" {
		n, err := strconv.Atoi(count)
		if err != nil {
			return "", fmt.Errorf("hourly counter %q: %w", count, err)
		}
		if n >= p.MaxPerHour {
			return HourlyLimit, nil
		}
	}

	last, ok, err := t.store.Get(ctx, lastKey(tier, nodeID))
	if err != nil {
		return "", err
	}
	if ok {
		nanos, err := strconv.ParseInt(last, 10, 64)
		if err != nil {
			return "", fmt.Errorf("last sent %q: %w", last, err)
		}
		if now.Sub(time.Unix(0, nanos)) < p.MinInterval {
			return TooSoon, nil
		}
	}

	_, dup, err := t.store.Get(ctx, dupKey(tier, nodeID, message))
	if err != nil {
		return "", err
	}
	if dup {
		return Duplicate, nil
	}
	return Allowed, nil
}

// CanSend reports whether an alert may go out now. It never records anything.
func (t *Throttle) CanSend(ctx context.Context, tier, nodeID, message string) (bool, error) {
	d, err := t.Check(ctx, tier, nodeID, message)
	if err != nil {
		return false, err
	}
	if d != Allowed {
		t.logger.Debug("notification throttled", "tier", tier, "node_id", nodeID, "reason", string(d))
	}
	return d == Allowed, nil
}

// MarkSent records a delivered alert.
func (t *Throttle) MarkSent(ctx context.Context, tier, nodeID, message string) error {
	tier, _ = t.policy(tier)
	now := t.clock.Now()

	if _, err := t.store.Incr(ctx, hourKey(tier, now), hourlyTTL); err != nil {
		return err
	}
	if err := t.store.Set(ctx, lastKey(tier, nodeID), strconv.FormatInt(now.UnixNano(), 10), lastSentTTL); err != nil {
		return err
	}
	return t.store.Set(ctx, dupKey(tier, nodeID, message), "1", t.dupWindow)
}

// TierStats reports one tier's usage in the current hour.
type TierStats struct {
	SentThisHour int           `json:"sent_this_hour"`
	MaxPerHour   int           `json:"max_per_hour"`
	MinInterval  time.Duration `json:"min_interval"`
}

// Stats returns usage for every tier.
func (t *Throttle) Stats(ctx context.Context) (map[string]TierStats, error) {
	now := t.clock.Now()
	stats := make(map[string]TierStats, len(t.policies))
	for tier, p := range t.policies {
		s := TierStats{MaxPerHour: p.MaxPerHour, MinInterval: p.MinInterval}
		v, ok, err := t.store.Get(ctx, hourKey(tier, now))
		if err != nil {
			return nil, err
		}
		if ok {
			if s.SentThisHour, err = strconv.Atoi(v); err != nil {
				return nil, fmt.Errorf("hourly counter %q: %w", v, err)
			}
		}
		stats[tier] = s
	}
	return stats, nil
}

// Reset clears all throttle state and returns the number of keys removed.
func (t *Throttle) Reset(ctx context.Context) (int, error) {
	n, err := t.store.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return n, err
	}
	t.logger.Info("notification throttle reset", "keys", n)
	return n, nil
}
