package services

import (
	"context"
	"time"

	"classflow_go/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Default cron specs for the maintenance jobs.
const (
	ReconcileSpec = "@hourly"
	FlushLogsSpec = "*/15 * * * *"
	ArchiveSpec   = "30 3 * * *"
)

// ProgressReconciler recomputes cached batch progress.
type ProgressReconciler interface {
	ReconcileProgress(ctx context.Context) (int, error)
}

// LogMaintainer flushes and archives activity logs.
type LogMaintainer interface {
	FlushCachedLogsToDatabase(ctx context.Context) (int, error)
	ArchiveOldLogs(ctx context.Context, daysOld int) (*models.LogArchive, error)
}

// ScheduleManager runs periodic maintenance with robfig/cron.
type ScheduleManager struct {
	cron        *cron.Cron
	progress    ProgressReconciler
	logs        LogMaintainer
	archiveDays int
	jobTimeout  time.Duration
}

// NewScheduleManager wires the jobs. logs may be nil to skip log maintenance.
func NewScheduleManager(progress ProgressReconciler, logs LogMaintainer, archiveDays int) *ScheduleManager {
	logger := cron.PrintfLogger(logrus.StandardLogger())
	return &ScheduleManager{
		cron:        cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		progress:    progress,
		logs:        logs,
		archiveDays: archiveDays,
		jobTimeout:  4 * time.Minute,
	}
}

// Start registers the jobs and starts the cron loop.
func (sm *ScheduleManager) Start() error {
	if _, err := sm.cron.AddFunc(ReconcileSpec, sm.ReconcileProgress); err != nil {
		return err
	}
	if sm.logs != nil {
		if _, err := sm.cron.AddFunc(FlushLogsSpec, sm.FlushLogs); err != nil {
			return err
		}
		if _, err := sm.cron.AddFunc(ArchiveSpec, sm.ArchiveLogs); err != nil {
			return err
		}
	}
	sm.cron.Start()
	logrus.WithField("jobs", len(sm.cron.Entries())).Info("Schedule manager started")
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (sm *ScheduleManager) Stop() {
	<-sm.cron.Stop().Done()
}

// Entries exposes the registered jobs.
func (sm *ScheduleManager) Entries() []cron.Entry {
	return sm.cron.Entries()
}

func (sm *ScheduleManager) ReconcileProgress() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.jobTimeout)
	defer cancel()
	n, err := sm.progress.ReconcileProgress(ctx)
	if err != nil {
		logrus.WithError(err).Error("progress reconciliation failed")
		return
	}
	logrus.WithField("batches", n).Info("progress reconciled")
}

func (sm *ScheduleManager) FlushLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.jobTimeout)
	defer cancel()
	if _, err := sm.logs.FlushCachedLogsToDatabase(ctx); err != nil {
		logrus.WithError(err).Warn("periodic FlushCachedLogsToDatabase failed")
	}
}

func (sm *ScheduleManager) ArchiveLogs() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.jobTimeout)
	defer cancel()
	if _, err := sm.logs.FlushCachedLogsToDatabase(ctx); err != nil {
		logrus.WithError(err).Warn("flush before archive failed")
	}
	if _, err := sm.logs.ArchiveOldLogs(ctx, sm.archiveDays); err != nil {
		logrus.WithError(err).Warn("periodic ArchiveOldLogs failed")
	}
}
