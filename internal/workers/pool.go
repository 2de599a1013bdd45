package workers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/orchestrator"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

const (
	idlePollInterval = 30 * time.Second
	startupJitterMax = 5 * time.Second
)

// Pool runs the per-type worker goroutines of one processing profile. Each
// worker claims from the durable task store, so any number of pool processes
// can share a database without double-claiming.
type Pool struct {
	dbs     *db.Service
	orch    *orchestrator.Orchestrator
	exec    *Executor
	tasks   repos.TaskRepo
	profile *Profile
	log     *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(dbs *db.Service, orch *orchestrator.Orchestrator, exec *Executor, tasks repos.TaskRepo, profile *Profile, baseLog *logger.Logger) *Pool {
	return &Pool{
		dbs:     dbs,
		orch:    orch,
		exec:    exec,
		tasks:   tasks,
		profile: profile,
		log:     baseLog.With("component", "WorkerPool", "profile", profile.Name),
	}
}

// Start launches every configured worker. Workers stagger their first poll so
// a process restart does not stampede the store.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	total := 0
	for _, taskType := range types.AllTaskTypes() {
		settings := p.profile.SettingsFor(taskType)
		for i := 0; i < settings.WorkerCount; i++ {
			p.wg.Add(1)
			total++
			go p.runWorker(ctx, taskType, settings, i)
		}
	}
	p.log.Info("worker pool started", "worker_count", total)
}

// Stop cancels every worker and waits for in-flight tasks to wind down.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, taskType string, settings TaskSettings, idx int) {
	defer p.wg.Done()
	wlog := p.log.With("task_type", taskType, "worker", idx)

	select {
	case <-time.After(time.Duration(rand.Int63n(int64(startupJitterMax)))):
	case <-ctx.Done():
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		claimed, err := p.runOnce(ctx, taskType, settings, wlog)
		if err != nil {
			wlog.Error("worker cycle failed", "error", err)
		}
		if claimed {
			continue
		}
		// Idle: back off with jitter so pollers spread out.
		sleep := idlePollInterval + time.Duration(rand.Int63n(int64(5*time.Second)))
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce claims and executes at most one task. Returns whether a task was
// claimed.
func (p *Pool) runOnce(ctx context.Context, taskType string, settings TaskSettings, wlog *logger.Logger) (bool, error) {
	session := p.dbs.Session()
	task, err := p.tasks.ClaimNextPending(ctx, session, taskType)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	wlog.Info("task claimed", "task_id", task.ID, "video_id", task.VideoID, "priority", task.Priority)

	taskCtx, cancel := context.WithTimeout(ctx, time.Duration(settings.TimeoutSeconds)*time.Second)
	result, execErr := p.exec.Execute(taskCtx, session, task, settings)
	cancel()

	switch {
	case execErr == nil:
		if err := p.orch.HandleTaskCompleted(ctx, task.ID, result); err != nil {
			return true, err
		}
	case ctx.Err() != nil:
		// Pool shutdown, not a task fault. Re-arm so another worker picks it up.
		wlog.Warn("task interrupted by shutdown, resetting", "task_id", task.ID)
		resetCtx, resetCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer resetCancel()
		return true, p.tasks.ResetToPending(resetCtx, session, task.ID)
	case errors.Is(execErr, context.DeadlineExceeded) || apperr.Is(execErr, apperr.ClassTimeout):
		wlog.Warn("task timed out", "task_id", task.ID, "timeout_seconds", settings.TimeoutSeconds)
		if err := p.orch.HandleTaskFailed(ctx, task.ID, fmt.Sprintf("timeout after %ds", settings.TimeoutSeconds)); err != nil {
			return true, err
		}
	default:
		wlog.Error("task failed", "task_id", task.ID, "error", execErr)
		if err := p.orch.HandleTaskFailed(ctx, task.ID, execErr.Error()); err != nil {
			return true, err
		}
	}
	return true, nil
}
