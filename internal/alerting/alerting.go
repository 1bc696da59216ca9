// Package alerting raises operator alerts for entries and webhook records
// that exhausted their retries. Every alert is logged; when a Sentry DSN is
// configured it is also captured as a Sentry event tagged with the
// component and entity.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/ignite/outreach-sequencer/internal/config"
	"github.com/ignite/outreach-sequencer/internal/pkg/logger"
)

const defaultSuppressFor = 15 * time.Minute

// Notifier implements the Alerter interfaces of the services and sweeper.
type Notifier struct {
	hub         *sentry.Hub
	suppressFor time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// New builds a notifier. An empty DSN disables Sentry but keeps logging.
func New(cfg config.AlertingConfig) (*Notifier, error) {
	if cfg.SentryDSN == "" {
		return NewWithHub(nil), nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("sentry init: %w", err)
	}
	return NewWithHub(sentry.NewHub(client, sentry.NewScope())), nil
}

// NewWithHub builds a notifier around an existing hub; nil means log only.
func NewWithHub(hub *sentry.Hub) *Notifier {
	return &Notifier{
		hub:         hub,
		suppressFor: defaultSuppressFor,
		now:         time.Now,
		last:        make(map[string]time.Time),
	}
}

// SetSuppressWindow sets how long repeat alerts for one entity are muted.
func (n *Notifier) SetSuppressWindow(d time.Duration) { n.suppressFor = d }

// Alert records that entityID in component needs operator attention.
func (n *Notifier) Alert(ctx context.Context, component, entityID, reason string) {
	if n.suppressed(component + ":" + entityID) {
		logger.Debug("alert suppressed", "component", component, "entity_id", entityID)
		return
	}

	logger.Error("operator alert", "component", component, "entity_id", entityID, "reason", reason)

	if n.hub == nil {
		return
	}
	n.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", component)
		scope.SetTag("entity_id", entityID)
		scope.SetLevel(sentry.LevelError)
		n.hub.CaptureMessage(fmt.Sprintf("[%s] %s: %s", component, entityID, reason))
	})
}

// Flush waits for buffered Sentry events.
func (n *Notifier) Flush(timeout time.Duration) {
	if n.hub != nil {
		n.hub.Flush(timeout)
	}
}

func (n *Notifier) suppressed(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if at, ok := n.last[key]; ok && now.Sub(at) < n.suppressFor {
		return true
	}
	n.last[key] = now
	for k, at := range n.last {
		if now.Sub(at) >= n.suppressFor {
			delete(n.last, k)
		}
	}
	return false
}
