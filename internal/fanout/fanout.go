package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/storage"
	"github.com/wirelabco/wagate/internal/wasocket"
)

// Envelope is the wire form every sink receives. One envelope per inbound
// event, same shape on the webhook and on the bus.
type Envelope struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	Session   string                 `json:"session"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Fanout turns session events into envelopes and hands them to the bus and,
// when a matching config exists, to the webhook deliverer. It runs on the
// session's pump goroutine, so per-session envelope order follows protocol
// order on both paths.
type Fanout struct {
	repo      storage.WebhookRepository
	bus       *Bus
	deliverer *Deliverer

	mu    sync.RWMutex
	cache map[string]*domain.WebhookConfig // nil value = known absent
}

func NewFanout(repo storage.WebhookRepository, bus *Bus, deliverer *Deliverer) *Fanout {
	return &Fanout{
		repo:      repo,
		bus:       bus,
		deliverer: deliverer,
		cache:     make(map[string]*domain.WebhookConfig),
	}
}

// OnSessionEvent implements the registry sink.
func (f *Fanout) OnSessionEvent(session string, evt wasocket.Event) {
	env := Envelope{
		ID:        uuid.NewString(),
		Event:     string(evt.Type),
		Session:   session,
		Timestamp: evt.Timestamp,
		Data:      evt.Data,
	}

	f.bus.Publish(session, env)

	cfg := f.webhookFor(session)
	if cfg == nil || !cfg.Enabled || !cfg.Matches(env.Event) {
		return
	}
	f.deliverer.Enqueue(cfg.URL, cfg.Secret, env)
}

// webhookFor returns the cached config, loading it on first use.
func (f *Fanout) webhookFor(session string) *domain.WebhookConfig {
	f.mu.RLock()
	cfg, ok := f.cache[session]
	f.mu.RUnlock()
	if ok {
		return cfg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	loaded, err := f.repo.GetBySession(ctx, session)
	if err != nil && err != domain.ErrNotFound {
		zap.L().Warn("fanout: webhook config load failed",
			zap.String("session", session), zap.Error(err))
		return nil
	}

	f.mu.Lock()
	f.cache[session] = loaded // nil when not found
	f.mu.Unlock()
	return loaded
}

// SetWebhook stores or replaces the session's webhook config.
func (f *Fanout) SetWebhook(ctx context.Context, cfg *domain.WebhookConfig) error {
	if err := f.repo.Upsert(ctx, cfg); err != nil {
		return err
	}
	f.mu.Lock()
	f.cache[cfg.Session] = cfg
	f.mu.Unlock()
	return nil
}

// GetWebhook returns the session's webhook config.
func (f *Fanout) GetWebhook(ctx context.Context, session string) (*domain.WebhookConfig, error) {
	return f.repo.GetBySession(ctx, session)
}

// RemoveSession drops the session's cache entry and delivery queue. Called
// when the session itself is deleted.
func (f *Fanout) RemoveSession(session string) {
	f.mu.Lock()
	delete(f.cache, session)
	f.mu.Unlock()
	f.deliverer.Remove(session)
}

// DeleteWebhook removes the session's webhook config.
func (f *Fanout) DeleteWebhook(ctx context.Context, session string) error {
	if err := f.repo.DeleteBySession(ctx, session); err != nil {
		return err
	}
	f.mu.Lock()
	delete(f.cache, session)
	f.mu.Unlock()
	return nil
}
