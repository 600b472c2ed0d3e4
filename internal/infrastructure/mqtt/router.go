package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Route binds a topic pattern to a handler.
type Route struct {
	Pattern string
	QoS     byte
	Handler MessageHandler
}

// Router is the topic dispatch table.
//
// Routes are registered once at startup. The Supervisor subscribes every
// route on each new session, and Dispatch lets callers run the table
// synchronously (tests, replays).
type Router struct {
	mu     sync.RWMutex
	routes []Route
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{}
}

// Handle adds a route. Registering the same pattern twice replaces the
// earlier handler.
func (r *Router) Handle(pattern string, qos byte, handler MessageHandler) error {
	if err := ValidatePattern(pattern); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.routes {
		if r.routes[i].Pattern == pattern {
			r.routes[i] = Route{Pattern: pattern, QoS: qos, Handler: handler}
			return nil
		}
	}
	r.routes = append(r.routes, Route{Pattern: pattern, QoS: qos, Handler: handler})
	return nil
}

// Routes returns a copy of the table in registration order.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Match returns the routes whose pattern matches topic.
func (r *Router) Match(topic string) []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Route
	for _, route := range r.routes {
		if MatchTopic(route.Pattern, topic) {
			matched = append(matched, route)
		}
	}
	return matched
}

// Dispatch invokes every matching handler in registration order and
// returns how many ran. Handler errors are joined.
func (r *Router) Dispatch(topic string, payload []byte) (int, error) {
	routes := r.Match(topic)

	var errs []error
	for _, route := range routes {
		if err := route.Handler(topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", route.Pattern, err))
		}
	}
	return len(routes), errors.Join(errs...)
}

// MatchTopic reports whether a concrete topic matches an MQTT pattern.
//
// "+" matches exactly one level. "#" matches the parent level and any
// number of levels below it, so "hydro/telemetry/#" matches
// "hydro/telemetry" as well as "hydro/telemetry/ph_001".
func MatchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, level := range p {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

// ValidatePattern checks MQTT wildcard placement.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidTopic
	}

	levels := strings.Split(pattern, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, pattern)
			}
		case level == "+":
		case strings.ContainsAny(level, "#+"):
			return fmt.Errorf("%w: %q: wildcards must occupy a whole level", ErrInvalidTopic, pattern)
		}
	}
	return nil
}
