package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wirelabco/wagate/internal/domain"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 1m", func() {
		go a.SchedReconcileStatusTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		go a.SchedSweepOrphanWebhooksTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedReconcileStatusTask repairs status snapshots that drifted from the
// live registry, e.g. after a crash left rows stuck in "connecting".
func (a *Application) SchedReconcileStatusTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := a.sessionRepo.List(ctx)
	if err != nil {
		zap.S().Errorf("status reconcile: %v", err)
		return
	}
	for _, row := range rows {
		live, err := a.registry.Status(row.Name)
		if err != nil {
			continue
		}
		if live != row.Status {
			_ = a.sessionRepo.UpdateStatus(ctx, row.Name, live)
		}
	}
}

// SchedSweepOrphanWebhooksTask drops webhook configs whose session row is
// gone, which can happen when a delete dies between the two writes.
func (a *Application) SchedSweepOrphanWebhooksTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	a.gormDB.
		Where("session NOT IN (?)",
			a.gormDB.Model(&domain.Session{}).Select("name")).
		Delete(&domain.WebhookConfig{})
}
