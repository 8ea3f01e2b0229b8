package domain

import (
	"strings"
	"time"
)

// WebhookConfig is the optional outbound delivery target for one session.
// A disabled or absent config is a silent no-op sink, never an error.
type WebhookConfig struct {
	ID        int64     `json:"id,string" gorm:"primaryKey"`
	Session   string    `json:"session" gorm:"uniqueIndex;size:100"`
	URL       string    `json:"url"`
	Enabled   bool      `json:"enabled"`
	Events    string    `json:"events"` // comma separated filter, empty = all
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WebhookConfig) TableName() string {
	return "wa_webhook_config"
}

// EventList splits the stored filter into event names.
func (w *WebhookConfig) EventList() []string {
	if strings.TrimSpace(w.Events) == "" {
		return nil
	}
	parts := strings.Split(w.Events, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether the filter admits the event name. An empty
// filter admits every event.
func (w *WebhookConfig) Matches(event string) bool {
	list := w.EventList()
	if len(list) == 0 {
		return true
	}
	for _, e := range list {
		if e == event {
			return true
		}
	}
	return false
}
