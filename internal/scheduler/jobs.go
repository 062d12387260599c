package scheduler

import (
	"context"
	"time"

	"sadaqah/pkg/logger"
)

const (
	JobOnboardingSync = "onboarding-sync"
	JobWebhookPrune   = "webhook-prune"
)

type Jobs struct {
	syncer    AccountSyncer
	pruner    EventPruner
	retention time.Duration
	logger    logger.Logger
}

func NewJobs(syncer AccountSyncer, pruner EventPruner, retention time.Duration, log logger.Logger) *Jobs {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Jobs{syncer: syncer, pruner: pruner, retention: retention, logger: log}
}

// SyncOnboarding catches up on account updates whose webhooks were missed.
func (j *Jobs) SyncOnboarding(ctx context.Context) error {
	changed, err := j.syncer.SyncPending(ctx)
	if err != nil {
		return err
	}
	if changed > 0 {
		j.logger.Info("Onboarding statuses reconciled", map[string]interface{}{"changed": changed})
	}
	return nil
}

func (j *Jobs) PruneWebhookEvents(ctx context.Context) error {
	n, err := j.pruner.Prune(ctx, j.retention)
	if err != nil {
		return err
	}
	j.logger.Info("Webhook event log pruned", map[string]interface{}{
		"deleted":   n,
		"retention": j.retention.String(),
	})
	return nil
}

// Register wires both jobs into s. An empty schedule disables that job.
func (j *Jobs) Register(s *Scheduler, syncSchedule, pruneSchedule string) error {
	if syncSchedule != "" {
		if err := s.Register(JobOnboardingSync, syncSchedule, 10*time.Minute, j.SyncOnboarding); err != nil {
			return err
		}
	}
	if pruneSchedule != "" && j.pruner != nil {
		if err := s.Register(JobWebhookPrune, pruneSchedule, time.Minute, j.PruneWebhookEvents); err != nil {
			return err
		}
	}
	return nil
}

type AccountSyncer interface {
	SyncPending(ctx context.Context) (int, error)
}

type EventPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
