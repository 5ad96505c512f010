// Package identity defines the session/identity provider contract and the
// token-based dev provider. The provider is an external collaborator: it
// issues an opaque user identity and notifies listeners on session change.
package identity

import (
	"context"
	"sync"

	"github.com/perch-im/perch/internal/domain"
)

// Provider is the session/identity provider contract. A nil identity passed
// to change listeners means the session ended.
type Provider interface {
	// SignIn performs the federated sign-in flow and returns the identity.
	SignIn(ctx context.Context) (domain.Identity, error)
	// SignOut ends the current session.
	SignOut(ctx context.Context) error
	// Current returns the signed-in identity, or nil.
	Current() *domain.Identity
	// OnChange registers a session-change listener and returns an
	// idempotent unsubscribe function. Listeners are invoked with the new
	// identity on sign-in and nil on sign-out.
	OnChange(fn func(*domain.Identity)) func()
}

// listeners is the shared OnChange bookkeeping for provider implementations.
type listeners struct {
	mu   sync.Mutex
	subs map[int]func(*domain.Identity)
	next int
}

func (l *listeners) add(fn func(*domain.Identity)) func() {
	l.mu.Lock()
	if l.subs == nil {
		l.subs = make(map[int]func(*domain.Identity))
	}
	id := l.next
	l.next++
	l.subs[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

func (l *listeners) notify(id *domain.Identity) {
	l.mu.Lock()
	fns := make([]func(*domain.Identity), 0, len(l.subs))
	for _, fn := range l.subs {
		fns = append(fns, fn)
	}
	l.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}
