package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
	"github.com/videolens/videolens-backend/internal/utils"
)

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// FTSMode is the full-text capability probed at startup. Navigation queries
// pick their text-match strategy from this once; there is no per-query probing.
type FTSMode string

const (
	FTSPostgres FTSMode = "tsvector" // generated tsvector column + GIN index
	FTSSQLite   FTSMode = "fts5"     // shadow FTS5 tables
	FTSLike     FTSMode = "like"     // case-insensitive substring only
)

type Service struct {
	db      *gorm.DB
	dialect Dialect
	fts     FTSMode
	log     *logger.Logger
}

// New connects using DATABASE_URL. postgres:// URLs use the postgres driver;
// anything else is treated as a sqlite path (sqlite:// prefix optional).
func New(log *logger.Logger) (*Service, error) {
	serviceLog := log.With("service", "DatabaseService")

	url := utils.GetEnv("DATABASE_URL", "videolens.db", log)

	var (
		gdb     *gorm.DB
		dialect Dialect
		err     error
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		serviceLog.Info("Connecting to Postgres...")
		gdb, err = gorm.Open(postgres.Open(url), cfg)
		dialect = DialectPostgres
	} else {
		path := strings.TrimPrefix(url, "sqlite://")
		serviceLog.Info("Opening SQLite database...", "path", path)
		gdb, err = gorm.Open(sqlite.Open(path), cfg)
		dialect = DialectSQLite
	}
	if err != nil {
		serviceLog.Error("Failed to connect to database", "error", err)
		return nil, fmt.Errorf("connect database: %w", err)
	}

	return &Service{db: gdb, dialect: dialect, fts: FTSLike, log: serviceLog}, nil
}

// NewWithDB wraps an already-open gorm handle. Used by tests.
func NewWithDB(gdb *gorm.DB, dialect Dialect, log *logger.Logger) *Service {
	return &Service{db: gdb, dialect: dialect, fts: FTSLike, log: log.With("service", "DatabaseService")}
}

func (s *Service) DB() *gorm.DB      { return s.db }
func (s *Service) Dialect() Dialect  { return s.dialect }
func (s *Service) FTS() FTSMode      { return s.fts }

// Session opens a fresh session for one claim-execute-commit cycle. Sessions
// are never shared across workers.
func (s *Service) Session() *gorm.DB {
	return s.db.Session(&gorm.Session{NewDB: true})
}

func (s *Service) AutoMigrateAll() error {
	s.log.Info("Auto migrating tables...")
	err := s.db.AutoMigrate(
		&types.Video{},
		&types.Task{},
		&types.ArtifactEnvelope{},
		&types.Run{},
		&types.SelectionPolicy{},
		&types.SceneRange{},
		&types.ObjectLabel{},
		&types.FaceCluster{},
		&types.VideoLocation{},
		&types.TranscriptSegment{},
		&types.OCRText{},
	)
	if err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if s.dialect == DialectPostgres {
		if err := s.addCascadeConstraints(); err != nil {
			return err
		}
	}
	s.fts = s.probeFTS()
	s.log.Info("Full-text mode selected", "fts_mode", string(s.fts))
	return nil
}

// addCascadeConstraints wires the ownership cascades: videos own tasks,
// envelopes, runs and derived projections. SQLite skips these (no ALTER TABLE
// ADD CONSTRAINT); the repos delete children explicitly there.
func (s *Service) addCascadeConstraints() error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"fk_task_video", `ALTER TABLE "task" ADD CONSTRAINT "fk_task_video" FOREIGN KEY ("video_id") REFERENCES "video"("id") ON DELETE CASCADE`},
		{"fk_artifact_video", `ALTER TABLE "artifact_envelope" ADD CONSTRAINT "fk_artifact_video" FOREIGN KEY ("asset_id") REFERENCES "video"("id") ON DELETE CASCADE`},
		{"fk_run_video", `ALTER TABLE "run" ADD CONSTRAINT "fk_run_video" FOREIGN KEY ("asset_id") REFERENCES "video"("id") ON DELETE CASCADE`},
		{"fk_scene_ranges_artifact", `ALTER TABLE "scene_ranges" ADD CONSTRAINT "fk_scene_ranges_artifact" FOREIGN KEY ("artifact_id") REFERENCES "artifact_envelope"("id") ON DELETE CASCADE`},
		{"fk_object_labels_artifact", `ALTER TABLE "object_labels" ADD CONSTRAINT "fk_object_labels_artifact" FOREIGN KEY ("artifact_id") REFERENCES "artifact_envelope"("id") ON DELETE CASCADE`},
		{"fk_face_clusters_artifact", `ALTER TABLE "face_clusters" ADD CONSTRAINT "fk_face_clusters_artifact" FOREIGN KEY ("artifact_id") REFERENCES "artifact_envelope"("id") ON DELETE CASCADE`},
		{"fk_transcript_segments_artifact", `ALTER TABLE "transcript_segments" ADD CONSTRAINT "fk_transcript_segments_artifact" FOREIGN KEY ("artifact_id") REFERENCES "artifact_envelope"("id") ON DELETE CASCADE`},
		{"fk_ocr_texts_artifact", `ALTER TABLE "ocr_texts" ADD CONSTRAINT "fk_ocr_texts_artifact" FOREIGN KEY ("artifact_id") REFERENCES "artifact_envelope"("id") ON DELETE CASCADE`},
	}
	for _, st := range stmts {
		var exists int64
		s.db.Raw(`SELECT COUNT(*) FROM information_schema.table_constraints WHERE constraint_name = ?`, st.name).Scan(&exists)
		if exists > 0 {
			continue
		}
		if err := s.db.Exec(st.sql).Error; err != nil {
			return fmt.Errorf("add %s: %w", st.name, err)
		}
	}
	return nil
}

// probeFTS discovers what the connected store can do, once, at startup.
func (s *Service) probeFTS() FTSMode {
	switch s.dialect {
	case DialectPostgres:
		if err := s.setupPostgresFTS(); err != nil {
			s.log.Warn("tsvector setup failed, falling back to substring matching", "error", err)
			return FTSLike
		}
		return FTSPostgres
	case DialectSQLite:
		if err := s.setupSQLiteFTS(); err != nil {
			s.log.Warn("FTS5 unavailable, falling back to substring matching", "error", err)
			return FTSLike
		}
		return FTSSQLite
	default:
		return FTSLike
	}
}

func (s *Service) setupPostgresFTS() error {
	stmts := []string{
		`ALTER TABLE "transcript_segments" ADD COLUMN IF NOT EXISTS "text_tsv" tsvector GENERATED ALWAYS AS (to_tsvector('simple', "text")) STORED`,
		`CREATE INDEX IF NOT EXISTS "idx_transcript_segments_tsv" ON "transcript_segments" USING GIN ("text_tsv")`,
		`ALTER TABLE "ocr_texts" ADD COLUMN IF NOT EXISTS "text_tsv" tsvector GENERATED ALWAYS AS (to_tsvector('simple', "text")) STORED`,
		`CREATE INDEX IF NOT EXISTS "idx_ocr_texts_tsv" ON "ocr_texts" USING GIN ("text_tsv")`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// setupSQLiteFTS creates shadow FTS5 tables mirroring the segment tables.
// Projection handlers keep them in sync inside the envelope transaction.
func (s *Service) setupSQLiteFTS() error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS transcript_fts USING fts5(artifact_id UNINDEXED, asset_id UNINDEXED, start_ms UNINDEXED, end_ms UNINDEXED, text)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS ocr_fts USING fts5(artifact_id UNINDEXED, asset_id UNINDEXED, start_ms UNINDEXED, end_ms UNINDEXED, text)`,
	}
	for _, stmt := range stmts {
		if err := s.db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
