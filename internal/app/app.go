package app

import (
	"context"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"

	"github.com/wirelabco/wagate/config"
	"github.com/wirelabco/wagate/internal/dispatch"
	"github.com/wirelabco/wagate/internal/domain"
	"github.com/wirelabco/wagate/internal/fanout"
	"github.com/wirelabco/wagate/internal/pairing"
	"github.com/wirelabco/wagate/internal/registry"
	"github.com/wirelabco/wagate/internal/storage"
	"github.com/wirelabco/wagate/internal/wasocket"
)

type Application struct {
	appConfig *config.AppConfig
	gormDB    *gorm.DB
	sched     *cron.Cron

	sessionRepo storage.SessionRepository
	webhookRepo storage.WebhookRepository

	registry   *registry.Registry
	pairing    *pairing.Controller
	dispatcher *dispatch.Dispatcher
	fanout     *fanout.Fanout
	bus        *fanout.Bus
	deliverer  *fanout.Deliverer
}

// Ensure Application implements all interfaces
var (
	_ DBProvider        = (*Application)(nil)
	_ ConfigProvider    = (*Application)(nil)
	_ SessionProvider   = (*Application)(nil)
	_ CommandProvider   = (*Application)(nil)
	_ SchedulerProvider = (*Application)(nil)
)

var gapp *Application

// GApp returns the process-wide application instance.
func GApp() *Application {
	return gapp
}

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

func (a *Application) Registry() *registry.Registry     { return a.registry }
func (a *Application) Pairing() *pairing.Controller     { return a.pairing }
func (a *Application) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }
func (a *Application) Fanout() *fanout.Fanout           { return a.fanout }
func (a *Application) Bus() *fanout.Bus                 { return a.bus }

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	a.sessionRepo = storage.NewGormSessionRepository(a.gormDB)
	a.webhookRepo = storage.NewGormWebhookRepository(a.gormDB)

	sqlDB, err := a.gormDB.DB()
	if err != nil {
		panic(err)
	}
	dialer, err := wasocket.NewMeowDialer(context.Background(), sqlDB, sqlstoreDriver(cfg.Database.Type))
	if err != nil {
		panic(err)
	}

	a.bus = fanout.NewBus()
	a.deliverer = fanout.NewDeliverer(cfg.Webhook)
	a.fanout = fanout.NewFanout(a.webhookRepo, a.bus, a.deliverer)

	a.registry = registry.NewRegistry(dialer, a.sessionRepo, cfg.Session)
	a.pairing = pairing.NewController(a.registry, cfg.Session.QRTTL)
	a.registry.AddSink(a.pairing)
	a.registry.AddSink(a.fanout)

	a.dispatcher = dispatch.NewDispatcher(a.registry, cfg.Session.CommandTimeout)

	a.initJob()

	gapp = a
}

// Start restores the session table and kicks off auto-connects.
func (a *Application) Start(ctx context.Context) error {
	return a.registry.Load(ctx)
}

func (a *Application) MigrateDB(track bool) error {
	if track {
		return a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...)
	}
	return a.gormDB.Migrator().AutoMigrate(domain.Tables...)
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
		zap.S().Error(err)
	}
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.registry != nil {
		a.registry.Shutdown()
	}
	if a.deliverer != nil {
		a.deliverer.Close()
	}
	_ = zap.L().Sync()
}
