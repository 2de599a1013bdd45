package orchestrator

import (
	"context"
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

type fixture struct {
	orch   *Orchestrator
	videos repos.VideoRepo
	tasks  repos.TaskRepo
	dbs    *db.Service
}

func newFixture(t *testing.T) *fixture {
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
	videos := repos.NewVideoRepo(gdb, log)
	tasks := repos.NewTaskRepo(gdb, false, log)
	orch := New(gdb, log, videos, tasks, nil, Options{})
	return &fixture{orch: orch, videos: videos, tasks: tasks, dbs: dbs}
}

func (f *fixture) seedVideo(t *testing.T) *types.Video {
	t.Helper()
	v := &types.Video{
		FilePath:  "/library/" + uuid.NewString() + ".mp4",
		Filename:  "clip.mp4",
		Status:    types.VideoStatusDiscovered,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	v, err := f.videos.Create(context.Background(), nil, v)
	if err != nil {
		t.Fatalf("seed video: %v", err)
	}
	return v
}

func (f *fixture) taskTypes(t *testing.T, videoID uuid.UUID, status string) map[string]*types.Task {
	t.Helper()
	all, err := f.tasks.GetByVideo(context.Background(), nil, videoID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	out := map[string]*types.Task{}
	for _, task := range all {
		if status == "" || task.Status == status {
			out[task.Type] = task
		}
	}
	return out
}

func (f *fixture) completeTask(t *testing.T, task *types.Task, result map[string]interface{}) {
	t.Helper()
	if err := f.orch.HandleTaskCompleted(context.Background(), task.ID, result); err != nil {
		t.Fatalf("complete %s: %v", task.Type, err)
	}
}

func TestDependencyGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.seedVideo(t)

	// Discovered video: only a hash task is created.
	created, err := f.orch.EnsureTasksForVideo(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if len(created) != 1 || created[0].Type != types.TaskTypeHash {
		t.Fatalf("expected only a hash task, got %+v", created)
	}
	if created[0].Priority != types.PriorityCritical {
		t.Fatalf("hash priority should be critical, got %d", created[0].Priority)
	}

	// Re-ensure does not duplicate.
	again, err := f.orch.EnsureTasksForVideo(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("duplicate tasks created: %+v", again)
	}

	// Hash completion promotes the video and fans out the parallel ML tasks.
	f.completeTask(t, created[0], map[string]interface{}{"file_hash": "deadbeefdeadbeef"})
	v2, err := f.videos.GetByID(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("reload video: %v", err)
	}
	if v2.Status != types.VideoStatusProcessing {
		t.Fatalf("video should be processing after fan-out, got %s", v2.Status)
	}
	if v2.FileHash == nil || *v2.FileHash != "deadbeefdeadbeef" {
		t.Fatalf("file hash not persisted on video")
	}

	pending := f.taskTypes(t, v.ID, types.TaskStatusPending)
	wantParallel := []string{
		types.TaskTypeTranscription, types.TaskTypeSceneDetection,
		types.TaskTypeObjectDetection, types.TaskTypeFaceDetection,
		types.TaskTypeOCR, types.TaskTypePlaceDetection, types.TaskTypeMetadataExtraction,
	}
	for _, tt := range wantParallel {
		if _, ok := pending[tt]; !ok {
			t.Fatalf("%s should be pending after hash completion", tt)
		}
	}
	for _, tt := range []string{types.TaskTypeTopicExtraction, types.TaskTypeEmbeddingGeneration, types.TaskTypeThumbnailGeneration, types.TaskTypeThumbnailExtraction} {
		if _, ok := pending[tt]; ok {
			t.Fatalf("%s created before its dependencies completed", tt)
		}
	}

	// Transcription unlocks topic extraction and embeddings.
	f.completeTask(t, pending[types.TaskTypeTranscription], nil)
	pending = f.taskTypes(t, v.ID, types.TaskStatusPending)
	if _, ok := pending[types.TaskTypeTopicExtraction]; !ok {
		t.Fatalf("topic_extraction should be ready after transcription")
	}
	if _, ok := pending[types.TaskTypeEmbeddingGeneration]; !ok {
		t.Fatalf("embedding_generation should be ready after transcription")
	}
	if _, ok := pending[types.TaskTypeThumbnailGeneration]; ok {
		t.Fatalf("thumbnail_generation requires scene_detection")
	}

	// Scene detection unlocks thumbnail generation.
	f.completeTask(t, pending[types.TaskTypeSceneDetection], nil)
	pending = f.taskTypes(t, v.ID, types.TaskStatusPending)
	if _, ok := pending[types.TaskTypeThumbnailGeneration]; !ok {
		t.Fatalf("thumbnail_generation should be ready after scene_detection")
	}

	// Finish the remaining parallel producers; thumbnail_extraction becomes ready.
	for _, tt := range []string{types.TaskTypeObjectDetection, types.TaskTypeFaceDetection, types.TaskTypeOCR, types.TaskTypePlaceDetection, types.TaskTypeMetadataExtraction} {
		f.completeTask(t, pending[tt], nil)
	}
	pending = f.taskTypes(t, v.ID, types.TaskStatusPending)
	if _, ok := pending[types.TaskTypeThumbnailExtraction]; !ok {
		t.Fatalf("thumbnail_extraction should be ready once all producers completed")
	}

	// Drain everything; the video completes.
	for _, tt := range []string{types.TaskTypeTopicExtraction, types.TaskTypeEmbeddingGeneration, types.TaskTypeThumbnailGeneration, types.TaskTypeThumbnailExtraction} {
		f.completeTask(t, pending[tt], nil)
	}
	v3, err := f.videos.GetByID(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("reload video: %v", err)
	}
	if v3.Status != types.VideoStatusCompleted {
		t.Fatalf("video should be completed, got %s", v3.Status)
	}
	if v3.ProcessedAt == nil {
		t.Fatalf("processed_at not stamped")
	}
}

func TestHashFailureFailsVideo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.seedVideo(t)

	created, err := f.orch.EnsureTasksForVideo(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := f.orch.HandleTaskFailed(ctx, created[0].ID, "corrupt file"); err != nil {
		t.Fatalf("fail hash: %v", err)
	}
	v2, _ := f.videos.GetByID(ctx, nil, v.ID)
	if v2.Status != types.VideoStatusFailed {
		t.Fatalf("hash failure should fail the video, got %s", v2.Status)
	}
}

func TestNonHashFailureIsTaskLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.seedVideo(t)

	created, _ := f.orch.EnsureTasksForVideo(ctx, nil, v.ID)
	f.completeTask(t, created[0], map[string]interface{}{"file_hash": "deadbeefdeadbeef"})
	pending := f.taskTypes(t, v.ID, types.TaskStatusPending)

	if err := f.orch.HandleTaskFailed(ctx, pending[types.TaskTypeOCR].ID, "model load failure"); err != nil {
		t.Fatalf("fail ocr: %v", err)
	}
	v2, _ := f.videos.GetByID(ctx, nil, v.ID)
	if v2.Status != types.VideoStatusProcessing {
		t.Fatalf("task-local failure should not change video status, got %s", v2.Status)
	}

	// Retry resets the task and a fresh task row is claimable again.
	if err := f.orch.RetryTask(ctx, pending[types.TaskTypeOCR].ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	task, _ := f.tasks.GetByID(ctx, nil, pending[types.TaskTypeOCR].ID)
	if task.Status != types.TaskStatusPending || task.Error != "" || task.StartedAt != nil {
		t.Fatalf("retry did not reset the task: %+v", task)
	}
}

func TestRetryRunningTaskRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.seedVideo(t)
	created, _ := f.orch.EnsureTasksForVideo(ctx, nil, v.ID)
	if err := f.orch.RetryTask(ctx, created[0].ID); err == nil {
		t.Fatalf("retrying a pending task should be rejected")
	}
}

func TestMultiLanguageTranscriptionFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.orch.opts.TranscriptionLanguages = []string{"en", "de"}
	v := f.seedVideo(t)

	created, _ := f.orch.EnsureTasksForVideo(ctx, nil, v.ID)
	f.completeTask(t, created[0], map[string]interface{}{"file_hash": "deadbeefdeadbeef"})

	all, err := f.tasks.GetByVideo(ctx, nil, v.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var langs []string
	for _, task := range all {
		if task.Type == types.TaskTypeTranscription {
			langs = append(langs, task.Language)
		}
	}
	if len(langs) != 2 {
		t.Fatalf("expected one transcription task per language, got %v", langs)
	}
}
