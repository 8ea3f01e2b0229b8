package storage

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/wirelabco/wagate/internal/domain"
)

// SessionRepository handles database operations for session records.
type SessionRepository interface {
	// Create inserts a new session row
	Create(ctx context.Context, sess *domain.Session) error

	// GetByName retrieves a session by its unique name
	GetByName(ctx context.Context, name string) (*domain.Session, error)

	// List retrieves all session rows
	List(ctx context.Context) ([]*domain.Session, error)

	// UpdateStatus updates the persisted status snapshot
	UpdateStatus(ctx context.Context, name, status string) error

	// UpdateIdentity stores identity fields learned after pairing
	UpdateIdentity(ctx context.Context, name, jid, phone, displayName string) error

	// IncrementStat bumps one of the best-effort counters
	IncrementStat(ctx context.Context, name, column string, delta int64) error

	// Delete removes the session row
	Delete(ctx context.Context, name string) error
}

// WebhookRepository handles database operations for webhook configs.
type WebhookRepository interface {
	Upsert(ctx context.Context, cfg *domain.WebhookConfig) error
	GetBySession(ctx context.Context, session string) (*domain.WebhookConfig, error)
	DeleteBySession(ctx context.Context, session string) error
}

// GormSessionRepository is the GORM implementation of SessionRepository.
type GormSessionRepository struct {
	db *gorm.DB
}

func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

func (r *GormSessionRepository) Create(ctx context.Context, sess *domain.Session) error {
	if err := r.db.WithContext(ctx).Create(sess).Error; err != nil {
		return errors.Wrap(err, "create session")
	}
	return nil
}

func (r *GormSessionRepository) GetByName(ctx context.Context, name string) (*domain.Session, error) {
	var sess domain.Session
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query session")
	}
	return &sess, nil
}

func (r *GormSessionRepository) List(ctx context.Context) ([]*domain.Session, error) {
	var out []*domain.Session
	if err := r.db.WithContext(ctx).Order("id").Find(&out).Error; err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return out, nil
}

func (r *GormSessionRepository) UpdateStatus(ctx context.Context, name, status string) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("name = ?", name).Update("status", status).Error
}

func (r *GormSessionRepository) UpdateIdentity(ctx context.Context, name, jid, phone, displayName string) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("name = ?", name).Updates(map[string]interface{}{
		"jid":          jid,
		"phone":        phone,
		"display_name": displayName,
	}).Error
}

func (r *GormSessionRepository) IncrementStat(ctx context.Context, name, column string, delta int64) error {
	return r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("name = ?", name).
		Update(column, gorm.Expr(column+" + ?", delta)).Error
}

func (r *GormSessionRepository) Delete(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Where("name = ?", name).Delete(&domain.Session{}).Error
}

// GormWebhookRepository is the GORM implementation of WebhookRepository.
type GormWebhookRepository struct {
	db *gorm.DB
}

func NewGormWebhookRepository(db *gorm.DB) *GormWebhookRepository {
	return &GormWebhookRepository{db: db}
}

func (r *GormWebhookRepository) Upsert(ctx context.Context, cfg *domain.WebhookConfig) error {
	var existing domain.WebhookConfig
	err := r.db.WithContext(ctx).Where("session = ?", cfg.Session).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(r.db.WithContext(ctx).Create(cfg).Error, "create webhook config")
	}
	if err != nil {
		return errors.Wrap(err, "query webhook config")
	}
	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	return errors.Wrap(r.db.WithContext(ctx).Save(cfg).Error, "update webhook config")
}

func (r *GormWebhookRepository) GetBySession(ctx context.Context, session string) (*domain.WebhookConfig, error) {
	var cfg domain.WebhookConfig
	err := r.db.WithContext(ctx).Where("session = ?", session).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "query webhook config")
	}
	return &cfg, nil
}

func (r *GormWebhookRepository) DeleteBySession(ctx context.Context, session string) error {
	return r.db.WithContext(ctx).Where("session = ?", session).Delete(&domain.WebhookConfig{}).Error
}
