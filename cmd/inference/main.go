package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/videolens/videolens-backend/internal/app"
	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/queue"
	"github.com/videolens/videolens-backend/internal/utils"
)

const dequeueTimeout = 5 * time.Second

// Inference worker tier: consumes jobs from the Redis queue instead of
// polling the task store, so GPU machines can be scaled separately from the
// pipeline server.
func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Services.Queue == nil {
		a.Log.Error("inference worker requires REDIS_HOST")
		os.Exit(1)
	}

	capability := utils.GetEnv("INFERENCE_CAPABILITY", queue.CapabilityAuto, a.Log)
	switch capability {
	case queue.CapabilityGPU, queue.CapabilityCPU, queue.CapabilityAuto:
	default:
		a.Log.Error("unknown INFERENCE_CAPABILITY", "capability", capability)
		os.Exit(1)
	}
	workerCount := utils.GetEnvAsInt("INFERENCE_WORKERS", 2, a.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Log.Info("inference tier started", "capability", capability, "workers", workerCount)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			runConsumer(ctx, a, capability, idx)
		}(i)
	}
	wg.Wait()
	a.Log.Info("inference tier stopped")
}

func runConsumer(ctx context.Context, a *app.App, capability string, idx int) {
	wlog := a.Log.With("consumer", idx, "capability", capability)
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := a.Services.Queue.Dequeue(ctx, capability, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wlog.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}
		handleJob(ctx, a, wlog, job)
	}
}

func handleJob(ctx context.Context, a *app.App, wlog *logger.Logger, job *queue.Job) {
	session := a.DB.Session()
	task, err := a.Repos.Tasks.ClaimByID(ctx, session, job.TaskID)
	if err != nil {
		wlog.Error("claim failed", "task_id", job.TaskID, "error", err)
		return
	}
	if task == nil {
		// Already claimed elsewhere or terminal; the job is consumed, the
		// marker stays until the owning worker acks.
		wlog.Debug("job had no claimable task", "task_id", job.TaskID)
		return
	}

	settings := a.Services.Profile.SettingsFor(task.Type)
	tctx, cancel := context.WithTimeout(ctx, time.Duration(settings.TimeoutSeconds)*time.Second)
	result, execErr := a.Services.Executor.Execute(tctx, session, task, settings)
	cancel()

	if execErr == nil {
		if err := a.Services.Orchestrator.HandleTaskCompleted(ctx, task.ID, result); err != nil {
			wlog.Error("completion handling failed", "task_id", task.ID, "error", err)
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown, not failure: re-arm the task for another worker.
		resetCtx, resetCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer resetCancel()
		if err := a.Repos.Tasks.ResetToPending(resetCtx, nil, task.ID); err != nil {
			wlog.Error("reset on shutdown failed", "task_id", task.ID, "error", err)
		}
		return
	}

	msg := execErr.Error()
	if errors.Is(execErr, context.DeadlineExceeded) || apperr.Is(execErr, apperr.ClassTimeout) {
		msg = fmt.Sprintf("timeout after %ds", settings.TimeoutSeconds)
	}
	if err := a.Services.Orchestrator.HandleTaskFailed(ctx, task.ID, msg); err != nil {
		wlog.Error("failure handling failed", "task_id", task.ID, "error", err)
	}
}
