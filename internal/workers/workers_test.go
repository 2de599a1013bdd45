package workers

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/artifacts"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/producers"
	"github.com/videolens/videolens-backend/internal/provenance"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

type workerFixture struct {
	dbs    *db.Service
	store  *artifacts.Store
	videos repos.VideoRepo
	tasks  repos.TaskRepo
	runs   repos.RunRepo
	exec   *Executor
}

func newWorkerFixture(t *testing.T) *workerFixture {
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
	store := artifacts.NewStore(dbs, schema.Default(), artifacts.NewProjectionRegistry(dbs.FTS(), nil, log), log)
	videos := repos.NewVideoRepo(gdb, log)
	tasks := repos.NewTaskRepo(gdb, false, log)
	runs := repos.NewRunRepo(gdb, log)
	exec := NewExecutor(store, videos, runs, producers.NewStubRegistry(), nil, log)
	return &workerFixture{dbs: dbs, store: store, videos: videos, tasks: tasks, runs: runs, exec: exec}
}

func (f *workerFixture) seedVideoFile(t *testing.T, hashed bool) *types.Video {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatalf("write video file: %v", err)
	}
	v := &types.Video{
		FilePath:  path,
		Filename:  "clip.mp4",
		Status:    types.VideoStatusDiscovered,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if hashed {
		hash, err := provenance.InputHash(path)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		v.FileHash = &hash
		v.Status = types.VideoStatusProcessing
	}
	v, err := f.videos.Create(context.Background(), nil, v)
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}
	return v
}

func (f *workerFixture) seedTask(t *testing.T, videoID uuid.UUID, taskType string) *types.Task {
	t.Helper()
	task, err := f.tasks.Create(context.Background(), nil, &types.Task{
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
	return task
}

func TestExecuteHashTask(t *testing.T) {
	f := newWorkerFixture(t)
	v := f.seedVideoFile(t, false)
	task := f.seedTask(t, v.ID, types.TaskTypeHash)

	result, err := f.exec.Execute(context.Background(), nil, task, TaskSettings{TimeoutSeconds: 60})
	if err != nil {
		t.Fatalf("execute hash: %v", err)
	}
	hash, _ := result["file_hash"].(string)
	if len(hash) != 16 {
		t.Fatalf("expected 16-hex file hash, got %q", hash)
	}
	want, _ := provenance.InputHash(v.FilePath)
	if hash != want {
		t.Fatalf("hash mismatch: got %s want %s", hash, want)
	}
}

func TestExecuteProducerTaskPersistsEnvelopes(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	v := f.seedVideoFile(t, true)
	task := f.seedTask(t, v.ID, types.TaskTypeObjectDetection)

	settings := TaskSettings{TimeoutSeconds: 60, FrameInterval: 5, ConfidenceThreshold: 0.5, ModelProfile: types.ModelProfileBalanced}
	result, err := f.exec.Execute(ctx, nil, task, settings)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result["artifact_count"].(int) == 0 {
		t.Fatalf("no artifacts written")
	}

	envs, err := f.store.GetByAsset(ctx, nil, v.ID, artifacts.Query{ArtifactType: types.ArtifactTypeObjectDetection})
	if err != nil {
		t.Fatalf("query envelopes: %v", err)
	}
	if len(envs) == 0 {
		t.Fatalf("envelopes not persisted")
	}
	env := envs[0]
	if env.ConfigHash == "" || env.InputHash == "" || env.Producer == "" {
		t.Fatalf("provenance incomplete: %+v", env)
	}

	runID, _ := uuid.Parse(result["run_id"].(string))
	if env.RunID != runID {
		t.Fatalf("envelope run %s does not match executor run %s", env.RunID, runID)
	}
	run, err := f.runs.GetByID(ctx, nil, runID)
	if err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("run should be completed, got %s", run.Status)
	}

	// Projection rows exist for navigation.
	var n int64
	if err := f.dbs.DB().Model(&types.ObjectLabel{}).Where("asset_id = ?", v.ID).Count(&n).Error; err != nil {
		t.Fatalf("count projections: %v", err)
	}
	if n == 0 {
		t.Fatalf("object label projection missing")
	}
}

func TestExecuteRejectsChangedInput(t *testing.T) {
	f := newWorkerFixture(t)
	v := f.seedVideoFile(t, true)
	if err := os.WriteFile(v.FilePath, []byte("mutated bytes"), 0o644); err != nil {
		t.Fatalf("mutate file: %v", err)
	}
	task := f.seedTask(t, v.ID, types.TaskTypeObjectDetection)

	_, err := f.exec.Execute(context.Background(), nil, task, TaskSettings{TimeoutSeconds: 60, ModelProfile: types.ModelProfileBalanced})
	if !apperr.Is(err, apperr.ClassValidation) {
		t.Fatalf("expected validation error on changed input, got %v", err)
	}
}

func TestExecuteUnreadableInputBecomesFatal(t *testing.T) {
	f := newWorkerFixture(t)
	v := f.seedVideoFile(t, true)
	if err := os.Remove(v.FilePath); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	task := f.seedTask(t, v.ID, types.TaskTypeObjectDetection)

	// Provenance verification retries the transient read failure, then gives
	// up and fails the task for good.
	_, err := f.exec.Execute(context.Background(), nil, task, TaskSettings{TimeoutSeconds: 60, ModelProfile: types.ModelProfileBalanced})
	if !apperr.Is(err, apperr.ClassFatal) {
		t.Fatalf("exhausted retries should yield a fatal error, got %v", err)
	}
}

func TestExecuteMetadataUpdatesVideo(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	v := f.seedVideoFile(t, true)
	task := f.seedTask(t, v.ID, types.TaskTypeMetadataExtraction)

	if _, err := f.exec.Execute(ctx, nil, task, TaskSettings{TimeoutSeconds: 60, ModelProfile: types.ModelProfileBalanced}); err != nil {
		t.Fatalf("execute metadata: %v", err)
	}
	v2, err := f.videos.GetByID(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if v2.DurationSeconds == nil || *v2.DurationSeconds <= 0 {
		t.Fatalf("duration not mirrored onto video: %+v", v2.DurationSeconds)
	}
}

func TestConcurrentClaimEachTaskOnce(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	const taskCount = 5
	for i := 0; i < taskCount; i++ {
		vid := f.seedVideoFile(t, true)
		f.seedTask(t, vid.ID, types.TaskTypeOCR)
	}

	const workers = 4
	var mu sync.Mutex
	claimedIDs := map[uuid.UUID]int{}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := f.tasks.ClaimNextPending(ctx, f.dbs.Session(), types.TaskTypeOCR)
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				claimedIDs[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimedIDs) != taskCount {
		t.Fatalf("claimed %d distinct tasks, want %d", len(claimedIDs), taskCount)
	}
	for id, n := range claimedIDs {
		if n != 1 {
			t.Fatalf("task %s claimed %d times", id, n)
		}
	}
}

func TestBuiltinProfiles(t *testing.T) {
	for _, name := range []string{"balanced", "search_first", "visual_first", "low_resource"} {
		p, err := BuiltinProfile(name)
		if err != nil {
			t.Fatalf("profile %s: %v", name, err)
		}
		if p.Tasks[types.TaskTypeHash].WorkerCount == 0 {
			t.Fatalf("profile %s must always run hash workers", name)
		}
		s := p.SettingsFor(types.TaskTypeTranscription)
		if s.TimeoutSeconds <= 0 || s.ModelProfile == "" {
			t.Fatalf("profile %s settings defaults missing: %+v", name, s)
		}
	}
	if _, err := BuiltinProfile("nope"); err == nil {
		t.Fatalf("unknown profile must error")
	}
	disabled := mustProfile(t, "low_resource").DisabledTypes()
	if !disabled[types.TaskTypeFaceDetection] {
		t.Fatalf("low_resource should disable face_detection")
	}
	if disabled[types.TaskTypeTranscription] {
		t.Fatalf("low_resource keeps transcription enabled")
	}
}

func mustProfile(t *testing.T, name string) *Profile {
	t.Helper()
	p, err := BuiltinProfile(name)
	if err != nil {
		t.Fatalf("profile %s: %v", name, err)
	}
	return p
}

func TestLoadProfileFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `name: custom
tasks:
  hash:
    worker_count: 1
    resource: io
  transcription:
    worker_count: 2
    resource: gpu
    timeout_seconds: 900
    model_profile: high_quality
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	p, err := LoadProfileFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Name != "custom" {
		t.Fatalf("name %q", p.Name)
	}
	s := p.SettingsFor(types.TaskTypeTranscription)
	if s.WorkerCount != 2 || s.TimeoutSeconds != 900 || s.ModelProfile != types.ModelProfileHighQuality {
		t.Fatalf("settings not honored: %+v", s)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: x\ntasks:\n  bogus_type:\n    worker_count: 1\n"), 0o644); err != nil {
		t.Fatalf("write bad profile: %v", err)
	}
	if _, err := LoadProfileFile(bad); err == nil {
		t.Fatalf("unknown task type must be rejected")
	}
}
