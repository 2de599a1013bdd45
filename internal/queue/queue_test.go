package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

func TestJobIDDeterministic(t *testing.T) {
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	want := "ml_11111111-2222-3333-4444-555555555555"
	if got := JobID(id); got != want {
		t.Fatalf("JobID = %q, want %q", got, want)
	}
	if JobID(id) != JobID(id) {
		t.Fatalf("JobID must be deterministic")
	}
}

func TestResourceClass(t *testing.T) {
	if resourceClass("gpu") != CapabilityGPU {
		t.Fatalf("gpu resource must route to the gpu list")
	}
	for _, res := range []string{"cpu", "io", ""} {
		if resourceClass(res) != CapabilityCPU {
			t.Fatalf("resource %q must route to the cpu list", res)
		}
	}
}

// fakeJobStore stands in for Redis in reconciler tests.
type fakeJobStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]bool
	enqueued []uuid.UUID
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]bool{}}
}

func (f *fakeJobStore) EnqueueTask(ctx context.Context, task *types.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[task.ID] = true
	f.enqueued = append(f.enqueued, task.ID)
	return nil
}

func (f *fakeJobStore) HasJob(ctx context.Context, taskID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[taskID], nil
}

func newReconcilerFixture(t *testing.T) (repos.TaskRepo, *fakeJobStore, *Reconciler, *types.Video, *db.Service) {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	dbs := db.NewWithDB(gdb, db.DialectSQLite, log)
	if err := dbs.AutoMigrateAll(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	video := &types.Video{
		FilePath:  "/library/" + uuid.NewString() + ".mp4",
		Filename:  "clip.mp4",
		Status:    types.VideoStatusProcessing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := gdb.Create(video).Error; err != nil {
		t.Fatalf("seed video: %v", err)
	}
	tasks := repos.NewTaskRepo(gdb, false, log)
	jobs := newFakeJobStore()
	rec := NewReconciler(tasks, jobs, log)
	return tasks, jobs, rec, video, dbs
}

func seedTask(t *testing.T, tasks repos.TaskRepo, videoID uuid.UUID, taskType, status string, startedAgo time.Duration) *types.Task {
	t.Helper()
	task, err := tasks.Create(context.Background(), nil, &types.Task{
		VideoID:   videoID,
		Type:      taskType,
		Status:    types.TaskStatusPending,
		Priority:  types.PriorityMedium,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if status != types.TaskStatusPending {
		updates := map[string]interface{}{"status": status}
		if startedAgo > 0 {
			updates["started_at"] = time.Now().Add(-startedAgo)
		}
		if err := tasks.UpdateFields(context.Background(), nil, task.ID, updates); err != nil {
			t.Fatalf("update task: %v", err)
		}
	}
	return task
}

func TestSweepRequeuesPendingWithoutJob(t *testing.T) {
	tasks, jobs, rec, video, _ := newReconcilerFixture(t)
	ctx := context.Background()

	orphan := seedTask(t, tasks, video.ID, types.TaskTypeOCR, types.TaskStatusPending, 0)
	tracked := seedTask(t, tasks, video.ID, types.TaskTypeTranscription, types.TaskStatusPending, 0)
	jobs.jobs[tracked.ID] = true

	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(jobs.enqueued) != 1 || jobs.enqueued[0] != orphan.ID {
		t.Fatalf("expected only the orphan re-enqueued, got %v", jobs.enqueued)
	}
}

func TestSweepRecoversRunningWithoutJob(t *testing.T) {
	tasks, jobs, rec, video, _ := newReconcilerFixture(t)
	ctx := context.Background()

	lost := seedTask(t, tasks, video.ID, types.TaskTypeObjectDetection, types.TaskStatusRunning, 10*time.Minute)

	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	reloaded, err := tasks.GetByID(ctx, nil, lost.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.TaskStatusPending {
		t.Fatalf("lost running task should be pending again, got %s", reloaded.Status)
	}
	if reloaded.StartedAt != nil {
		t.Fatalf("started_at should be cleared on reset")
	}
	has, _ := jobs.HasJob(ctx, lost.ID)
	if !has {
		t.Fatalf("recovered task must be back in the queue")
	}
}

func TestSweepLeavesHealthyLongRunnersAlone(t *testing.T) {
	tasks, jobs, rec, video, _ := newReconcilerFixture(t)
	ctx := context.Background()

	longRunner := seedTask(t, tasks, video.ID, types.TaskTypeTranscription, types.TaskStatusRunning, 2*time.Hour)
	jobs.jobs[longRunner.ID] = true

	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	reloaded, err := tasks.GetByID(ctx, nil, longRunner.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.TaskStatusRunning {
		t.Fatalf("long runner with a live job must never be touched, got %s", reloaded.Status)
	}
	if len(jobs.enqueued) != 0 {
		t.Fatalf("nothing should be re-enqueued: %v", jobs.enqueued)
	}
}

func TestSweepIgnoresCancelledTasks(t *testing.T) {
	tasks, jobs, rec, video, _ := newReconcilerFixture(t)
	ctx := context.Background()

	cancelled := seedTask(t, tasks, video.ID, types.TaskTypeOCR, types.TaskStatusCancelled, 0)

	if err := rec.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	reloaded, err := tasks.GetByID(ctx, nil, cancelled.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != types.TaskStatusCancelled {
		t.Fatalf("cancelled is terminal, got %s", reloaded.Status)
	}
	if len(jobs.enqueued) != 0 {
		t.Fatalf("cancelled tasks must not be re-enqueued")
	}
}
