package auth

import (
	"context"
	"log/slog"

	"github.com/geonotify/portal/internal/idp"
)

// Coordinator drives the resolver from the authentication backend's
// principal-change feed. The feed fires independently of, and possibly
// before, any provisioning sequence on the same browser; each event is
// resolved to a terminal state and emitted.
type Coordinator struct {
	backend  idp.Backend
	resolver *Resolver
	log      *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(backend idp.Backend, resolver *Resolver, log *slog.Logger) *Coordinator {
	return &Coordinator{backend: backend, resolver: resolver, log: log}
}

// Run streams resolved access states for one session until ctx is done:
// StateLoading first, then the resolution of principal, then a resolution
// per principal-change event. Events for other principals are skipped; a
// nil-principal event (sign-out) always passes. Store failures during
// resolution emit StateAccessDenied rather than wedging the stream.
func (c *Coordinator) Run(ctx context.Context, principal *idp.Principal, flowID string) <-chan Access {
	out := make(chan Access, 1)

	subject := ""
	if principal != nil {
		subject = principal.UID
	}

	go func() {
		defer close(out)

		if !c.emit(ctx, out, Access{State: StateLoading}) {
			return
		}
		access, ok := c.resolveAccess(ctx, principal, flowID)
		if !ok || !c.emit(ctx, out, access) {
			return
		}

		events, cancel := c.backend.Subscribe()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Principal != nil && subject != "" && ev.Principal.UID != subject {
					continue
				}
				access, ok := c.resolveAccess(ctx, ev.Principal, flowID)
				if !ok || !c.emit(ctx, out, access) {
					return
				}
			}
		}
	}()

	return out
}

func (c *Coordinator) resolveAccess(ctx context.Context, principal *idp.Principal, flowID string) (Access, bool) {
	access, err := c.resolver.Resolve(ctx, principal, flowID)
	if err != nil {
		if ctx.Err() != nil {
			return Access{}, false
		}
		c.log.Error("role resolution failed", slog.String("error", err.Error()))
		return Access{State: StateAccessDenied}, true
	}
	return *access, true
}

func (c *Coordinator) emit(ctx context.Context, out chan<- Access, access Access) bool {
	select {
	case out <- access:
		return true
	case <-ctx.Done():
		return false
	}
}
