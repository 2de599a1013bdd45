package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

const (
	CapabilityGPU  = "gpu"
	CapabilityCPU  = "cpu"
	CapabilityAuto = "auto"

	jobKeyPrefix   = "videolens:job:"
	queueKeyPrefix = "videolens:queue:"

	// Job markers outlive any sane task duration; the reconciler re-creates
	// them if a task is still live after expiry.
	jobMarkerTTL = 24 * time.Hour
)

// JobID is the deterministic queue identity of a task. Determinism is what
// makes enqueueing idempotent: re-enqueuing a task can never mint a second job.
func JobID(taskID uuid.UUID) string {
	return "ml_" + taskID.String()
}

// Job is the queue-side mirror of a task. The durable task row stays the
// source of truth; a job is only a dispatch hint.
type Job struct {
	ID       string    `json:"id"`
	TaskID   uuid.UUID `json:"task_id"`
	VideoID  uuid.UUID `json:"video_id"`
	TaskType string    `json:"task_type"`
	Resource string    `json:"resource"`
	Priority int       `json:"priority"`
	Enqueued time.Time `json:"enqueued"`
}

// RedisQueue dispatches tasks to remote worker tiers through Redis lists, one
// list per resource class. A SETNX marker per job dedupes enqueues.
type RedisQueue struct {
	rdb *redis.Client
	// resourceFor maps a task type to its resource class (cpu/gpu/io); io
	// tasks ride the cpu list.
	resourceFor func(taskType string) string
	log         *logger.Logger
}

func NewRedisQueue(rdb *redis.Client, resourceFor func(taskType string) string, baseLog *logger.Logger) *RedisQueue {
	return &RedisQueue{
		rdb:         rdb,
		resourceFor: resourceFor,
		log:         baseLog.With("component", "RedisQueue"),
	}
}

// EnqueueTask publishes the task to its resource list. Re-enqueueing a task
// whose job marker still exists is a no-op.
func (q *RedisQueue) EnqueueTask(ctx context.Context, task *types.Task) error {
	job := Job{
		ID:       JobID(task.ID),
		TaskID:   task.ID,
		VideoID:  task.VideoID,
		TaskType: task.Type,
		Resource: resourceClass(q.resourceFor(task.Type)),
		Priority: task.Priority,
		Enqueued: time.Now(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	set, err := q.rdb.SetNX(ctx, jobKeyPrefix+job.ID, payload, jobMarkerTTL).Result()
	if err != nil {
		return fmt.Errorf("setnx job marker: %w", err)
	}
	if !set {
		q.log.Debug("job already enqueued", "job_id", job.ID)
		return nil
	}
	if err := q.rdb.LPush(ctx, queueKeyPrefix+job.Resource, payload).Err(); err != nil {
		// Roll the marker back so the reconciler can retry the whole enqueue.
		_ = q.rdb.Del(ctx, jobKeyPrefix+job.ID).Err()
		return fmt.Errorf("push job: %w", err)
	}
	q.log.Info("job enqueued", "job_id", job.ID, "task_type", job.TaskType, "resource", job.Resource)
	return nil
}

// Dequeue blocks up to timeout for the next job matching the capability.
// GPU-capable workers drain the gpu list before falling back to cpu work;
// auto watches both. Returns nil on timeout.
func (q *RedisQueue) Dequeue(ctx context.Context, capability string, timeout time.Duration) (*Job, error) {
	var keys []string
	switch capability {
	case CapabilityGPU, CapabilityAuto:
		keys = []string{queueKeyPrefix + CapabilityGPU, queueKeyPrefix + CapabilityCPU}
	case CapabilityCPU:
		keys = []string{queueKeyPrefix + CapabilityCPU}
	default:
		return nil, fmt.Errorf("unknown capability %q", capability)
	}
	res, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// HasJob reports whether the dedupe marker for the task exists.
func (q *RedisQueue) HasJob(ctx context.Context, taskID uuid.UUID) (bool, error) {
	n, err := q.rdb.Exists(ctx, jobKeyPrefix+JobID(taskID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ack drops the job marker once the task reached a terminal status.
func (q *RedisQueue) Ack(ctx context.Context, taskID uuid.UUID) error {
	return q.rdb.Del(ctx, jobKeyPrefix+JobID(taskID)).Err()
}

func resourceClass(resource string) string {
	if resource == "gpu" {
		return CapabilityGPU
	}
	return CapabilityCPU
}
