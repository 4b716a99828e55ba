package notify

import "context"

// Router sends each message to the notifier registered for its alert method.
// Methods without a route use the fallback; with no fallback they stay
// pending.
type Router struct {
	routes   map[string]Notifier
	fallback Notifier
}

// NewRouter creates a Router with an optional fallback.
func NewRouter(fallback Notifier) *Router {
	return &Router{routes: make(map[string]Notifier), fallback: fallback}
}

// Handle registers n for method, replacing any earlier route.
func (r *Router) Handle(method string, n Notifier) *Router {
	r.routes[method] = n
	return r
}

func (r *Router) Notify(ctx context.Context, destination string, msg Message) bool {
	if n, ok := r.routes[msg.Method]; ok {
		return n.Notify(ctx, destination, msg)
	}
	if r.fallback != nil {
		return r.fallback.Notify(ctx, destination, msg)
	}
	return false
}
