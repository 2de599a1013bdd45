package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

const (
	defaultSweepInterval = 5 * time.Minute
	defaultStuckAfter    = time.Hour
)

// JobStore is the queue surface the reconciler needs.
type JobStore interface {
	EnqueueTask(ctx context.Context, task *types.Task) error
	HasJob(ctx context.Context, taskID uuid.UUID) (bool, error)
}

// Reconciler periodically re-aligns the queue with the durable task store.
// The store is the source of truth: a lost queue entry is re-created, a task
// the queue forgot while running is re-armed, and long runners are surfaced
// but never killed.
type Reconciler struct {
	tasks      repos.TaskRepo
	jobs       JobStore
	interval   time.Duration
	stuckAfter time.Duration
	log        *logger.Logger
}

func NewReconciler(tasks repos.TaskRepo, jobs JobStore, baseLog *logger.Logger) *Reconciler {
	return &Reconciler{
		tasks:      tasks,
		jobs:       jobs,
		interval:   defaultSweepInterval,
		stuckAfter: defaultStuckAfter,
		log:        baseLog.With("component", "Reconciler"),
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info("reconciler started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reconciler stopped")
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if err := r.requeuePending(ctx); err != nil {
		return err
	}
	if err := r.recoverLostRunning(ctx); err != nil {
		return err
	}
	return r.alertLongRunning(ctx)
}

// requeuePending re-creates queue entries for pending tasks the queue lost.
// Stale pending work is re-enqueued, never escalated.
func (r *Reconciler) requeuePending(ctx context.Context) error {
	pending, err := r.tasks.ListByStatus(ctx, nil, types.TaskStatusPending)
	if err != nil {
		return err
	}
	for _, task := range pending {
		has, err := r.jobs.HasJob(ctx, task.ID)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		r.log.Warn("pending task missing from queue, re-enqueueing", "task_id", task.ID, "task_type", task.Type)
		if err := r.jobs.EnqueueTask(ctx, task); err != nil {
			r.log.Error("re-enqueue failed", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

// recoverLostRunning re-arms running tasks whose job marker vanished: the
// worker holding them is gone.
func (r *Reconciler) recoverLostRunning(ctx context.Context) error {
	running, err := r.tasks.ListByStatus(ctx, nil, types.TaskStatusRunning)
	if err != nil {
		return err
	}
	for _, task := range running {
		has, err := r.jobs.HasJob(ctx, task.ID)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		r.log.Warn("running task lost its worker, resetting to pending", "task_id", task.ID, "task_type", task.Type)
		if err := r.tasks.ResetToPending(ctx, nil, task.ID); err != nil {
			return err
		}
		task.Status = types.TaskStatusPending
		if err := r.jobs.EnqueueTask(ctx, task); err != nil {
			r.log.Error("re-enqueue after reset failed", "task_id", task.ID, "error", err)
		}
	}
	return nil
}

// alertLongRunning logs tasks running past the threshold. They are never
// killed here; a healthy long transcription looks identical to a hung one.
func (r *Reconciler) alertLongRunning(ctx context.Context) error {
	stuck, err := r.tasks.ListRunningLongerThan(ctx, nil, r.stuckAfter)
	if err != nil {
		return err
	}
	for _, task := range stuck {
		has, err := r.jobs.HasJob(ctx, task.ID)
		if err != nil {
			return err
		}
		if !has {
			// Already handled by recoverLostRunning this sweep.
			continue
		}
		r.log.Error("task running past threshold",
			"task_id", task.ID, "task_type", task.Type, "video_id", task.VideoID,
			"started_at", task.StartedAt, "threshold", r.stuckAfter.String())
	}
	return nil
}
