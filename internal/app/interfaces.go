package app

import (
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/wirelabco/wagate/config"
	"github.com/wirelabco/wagate/internal/dispatch"
	"github.com/wirelabco/wagate/internal/fanout"
	"github.com/wirelabco/wagate/internal/pairing"
	"github.com/wirelabco/wagate/internal/registry"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SessionProvider provides the session connection machinery
type SessionProvider interface {
	Registry() *registry.Registry
	Pairing() *pairing.Controller
}

// CommandProvider provides the chat/privacy command surface and event sinks
type CommandProvider interface {
	Dispatcher() *dispatch.Dispatcher
	Fanout() *fanout.Fanout
	Bus() *fanout.Bus
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}
