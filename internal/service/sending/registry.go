package sending

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignite/outreach-sequencer/internal/domain"
)

// Registry is a TransportFactory keyed by mailbox provider.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
	fallback   string
}

// NewRegistry creates an empty registry. Mailboxes without a provider use
// fallback.
func NewRegistry(fallback string) *Registry {
	return &Registry{transports: make(map[string]Transport), fallback: fallback}
}

// Register binds a provider name to a transport.
func (r *Registry) Register(provider string, t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[provider] = t
}

// TransportFor implements TransportFactory.
func (r *Registry) TransportFor(_ context.Context, mailbox *domain.Mailbox) (Transport, error) {
	provider := mailbox.Provider
	if provider == "" {
		provider = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (mailbox %s)", ErrNoTransport, provider, mailbox.ID)
	}
	return t, nil
}
