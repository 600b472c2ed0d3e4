// Package notify rate-limits operator alerts and delivers them to channels.
//
// A Throttle applies three gates per severity tier: an hourly cap, a
// minimum interval per node, and suppression of identical messages inside
// the duplicate window. Its state lives in a Store with expiring keys,
// either MemoryStore or RedisStore.
//
//	throttle := notify.NewThrottle(notify.NewMemoryStore(nil), nil, nil, 0)
//	d := notify.NewDispatcher(throttle, notify.NewLogChannel(log))
//	sent, err := d.Notify(ctx, notify.TierCritical, "ph_ec_001", "pH out of range")
package notify
