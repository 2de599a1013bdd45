package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/orchestrator"
	"github.com/videolens/videolens-backend/internal/repos"
	"github.com/videolens/videolens-backend/internal/types"
)

type serviceFixture struct {
	svc    VideoService
	videos repos.VideoRepo
	tasks  repos.TaskRepo
	gdb    *gorm.DB
}

func newServiceFixture(t *testing.T) *serviceFixture {
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
	orch := orchestrator.New(gdb, log, videos, tasks, nil, orchestrator.Options{})
	return &serviceFixture{
		svc:    NewVideoService(gdb, videos, tasks, orch, log),
		videos: videos,
		tasks:  tasks,
		gdb:    gdb,
	}
}

func TestRegisterVideoSchedulesHash(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	mod := time.Now().Add(-time.Hour)
	video, err := f.svc.RegisterVideo(ctx, RegisterVideoInput{
		FilePath:     "/library/trips/beach.mp4",
		Filename:     "beach.mp4",
		FileSize:     2048,
		LastModified: &mod,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if video.Status != types.VideoStatusDiscovered {
		t.Fatalf("fresh video should be discovered, got %s", video.Status)
	}

	pending, err := f.tasks.ListByStatus(ctx, nil, types.TaskStatusPending)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != types.TaskTypeHash {
		t.Fatalf("registration must schedule exactly the hash task, got %d tasks", len(pending))
	}
	if pending[0].VideoID != video.ID {
		t.Fatalf("task bound to wrong video")
	}
}

func TestRegisterVideoDuplicatePath(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	in := RegisterVideoInput{FilePath: "/library/a.mp4", Filename: "a.mp4", FileSize: 1}
	if _, err := f.svc.RegisterVideo(ctx, in); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := f.svc.RegisterVideo(ctx, in)
	if !apperr.Is(err, apperr.ClassConflict) {
		t.Fatalf("duplicate path must conflict, got %v", err)
	}
}

func TestRegisterVideoValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	cases := []RegisterVideoInput{
		{FilePath: "", Filename: "a.mp4"},
		{FilePath: "/library/a.mp4", Filename: "  "},
		{FilePath: "/library/a.mp4", Filename: "a.mp4", FileSize: -1},
	}
	for i, in := range cases {
		if _, err := f.svc.RegisterVideo(ctx, in); !apperr.Is(err, apperr.ClassValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestDeleteVideoCascades(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	video, err := f.svc.RegisterVideo(ctx, RegisterVideoInput{
		FilePath: "/library/gone.mp4", Filename: "gone.mp4", FileSize: 10,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	env := &types.ArtifactEnvelope{
		AssetID:      video.ID,
		ArtifactType: types.ArtifactTypeObjectDetection,
		Payload:      []byte(`{"label":"dog","confidence":0.9}`),
		Producer:     "test",
		ModelProfile: types.ModelProfileBalanced,
		ConfigHash:   "c", InputHash: "i", RunID: uuid.New(),
		CreatedAt: time.Now(),
	}
	if err := f.gdb.Create(env).Error; err != nil {
		t.Fatalf("seed envelope: %v", err)
	}
	if err := f.gdb.Create(&types.ObjectLabel{
		ArtifactID: env.ID, AssetID: video.ID, Label: "dog", Confidence: 0.9,
	}).Error; err != nil {
		t.Fatalf("seed projection: %v", err)
	}

	if err := f.svc.DeleteVideo(ctx, video.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.GetVideo(ctx, video.ID); !apperr.Is(err, apperr.ClassNotFound) {
		t.Fatalf("video should be gone, got %v", err)
	}
	for name, model := range map[string]interface{}{
		"tasks":       &types.Task{},
		"envelopes":   &types.ArtifactEnvelope{},
		"projections": &types.ObjectLabel{},
	} {
		var n int64
		if err := f.gdb.Model(model).Count(&n).Error; err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Fatalf("%s survived the cascade (%d rows)", name, n)
		}
	}

	if err := f.svc.DeleteVideo(ctx, video.ID); !apperr.Is(err, apperr.ClassNotFound) {
		t.Fatalf("double delete must be not-found, got %v", err)
	}
}

func TestLibraryReport(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	if _, err := f.svc.RegisterVideo(ctx, RegisterVideoInput{FilePath: "/library/1.mp4", Filename: "1.mp4"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.svc.RegisterVideo(ctx, RegisterVideoInput{FilePath: "/library/2.mp4", Filename: "2.mp4"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	report, err := f.svc.Report(ctx)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Videos[types.VideoStatusDiscovered] != 2 {
		t.Fatalf("expected 2 discovered videos, got %+v", report.Videos)
	}
	if report.Tasks[types.TaskStatusPending] != 2 {
		t.Fatalf("expected 2 pending hash tasks, got %+v", report.Tasks)
	}
}
