package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

// Query narrows GetByAsset. Zero values mean "no restriction".
type Query struct {
	ArtifactType   string
	StartMS        *int64
	EndMS          *int64
	RunID          *uuid.UUID
	Selection      *types.SelectionPolicy
	PayloadFilters map[string]interface{}
}

// Store is the canonical envelope store. Every write validates against the
// schema registry and synchronizes projections in the same transaction; a
// projection failure rolls the envelope back. Envelopes are append-only.
type Store struct {
	dbs         *db.Service
	registry    *schema.Registry
	projections *ProjectionRegistry
	log         *logger.Logger
}

func NewStore(dbs *db.Service, registry *schema.Registry, projections *ProjectionRegistry, baseLog *logger.Logger) *Store {
	return &Store{
		dbs:         dbs,
		registry:    registry,
		projections: projections,
		log:         baseLog.With("component", "ArtifactStore"),
	}
}

func (s *Store) Registry() *schema.Registry { return s.registry }

// Create validates and persists one envelope plus its projection.
func (s *Store) Create(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	return s.BatchCreate(ctx, tx, []*types.ArtifactEnvelope{env})
}

// BatchCreate validates every envelope first (fail-fast, before any write),
// then inserts the batch and synchronizes projections inside one transaction.
// Re-creating envelopes with ids already present is a no-op for the envelope
// row and an UPSERT for its projections, so a repeated batch leaves the store
// indistinguishable from a single call.
func (s *Store) BatchCreate(ctx context.Context, tx *gorm.DB, envs []*types.ArtifactEnvelope) error {
	if len(envs) == 0 {
		return nil
	}
	transaction := tx
	if transaction == nil {
		transaction = s.dbs.DB()
	}

	payloads := make([]schema.Payload, len(envs))
	for i, env := range envs {
		if env == nil {
			return apperr.Validationf("envelope_nil", "batch item %d is nil", i)
		}
		if err := validateSpan(env); err != nil {
			return err
		}
		p, err := s.registry.Decode(env.ArtifactType, env.SchemaVersion, json.RawMessage(env.Payload))
		if err != nil {
			return err
		}
		payloads[i] = p
	}

	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		for i, env := range envs {
			if env.ID == uuid.Nil {
				env.ID = uuid.New()
			}
			if env.CreatedAt.IsZero() {
				env.CreatedAt = time.Now()
			}
			res := txx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoNothing: true,
			}).Create(env)
			if res.Error != nil {
				return res.Error
			}
			if err := s.projections.Sync(ctx, txx, env, payloads[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ArtifactEnvelope, error) {
	transaction := tx
	if transaction == nil {
		transaction = s.dbs.DB()
	}
	var env types.ArtifactEnvelope
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&env).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFoundf("artifact_not_found", "artifact %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

// GetByAsset returns every envelope for the asset matching the query, span
// order ascending. Without a selection policy nothing is filtered out; callers
// see all runs.
func (s *Store) GetByAsset(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, q Query) ([]*types.ArtifactEnvelope, error) {
	transaction := tx
	if transaction == nil {
		transaction = s.dbs.DB()
	}
	dbq := transaction.WithContext(ctx).Model(&types.ArtifactEnvelope{}).Where("asset_id = ?", assetID)
	if q.ArtifactType != "" {
		dbq = dbq.Where("artifact_type = ?", q.ArtifactType)
	}
	if q.StartMS != nil {
		dbq = dbq.Where("span_end_ms >= ?", *q.StartMS)
	}
	if q.EndMS != nil {
		dbq = dbq.Where("span_start_ms <= ?", *q.EndMS)
	}
	if q.RunID != nil {
		dbq = dbq.Where("run_id = ?", *q.RunID)
	}
	for key, val := range q.PayloadFilters {
		dbq = dbq.Where(datatypes.JSONQuery("payload").Equals(val, key))
	}

	ordered := false
	if q.Selection != nil {
		var err error
		dbq, ordered, err = s.applySelection(ctx, transaction, dbq, assetID, q)
		if err != nil {
			return nil, err
		}
	}
	if !ordered {
		dbq = dbq.Order("span_start_ms ASC, created_at ASC")
	}

	var out []*types.ArtifactEnvelope
	if err := dbq.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// GetBySpan returns envelopes of one type overlapping [startMS, endMS].
func (s *Store) GetBySpan(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, artifactType string, startMS, endMS int64, selection *types.SelectionPolicy) ([]*types.ArtifactEnvelope, error) {
	if startMS < 0 || endMS < startMS {
		return nil, apperr.Validationf("span_invalid", "invalid span [%d, %d]", startMS, endMS)
	}
	return s.GetByAsset(ctx, tx, assetID, Query{
		ArtifactType: artifactType,
		StartMS:      &startMS,
		EndMS:        &endMS,
		Selection:    selection,
	})
}

// Delete removes the envelope and cascades to its projection rows in one
// transaction.
func (s *Store) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = s.dbs.DB()
	}
	env, err := s.GetByID(ctx, transaction, id)
	if err != nil {
		return err
	}
	return transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		if err := s.projections.Remove(ctx, txx, env); err != nil {
			return err
		}
		return txx.Where("id = ?", id).Delete(&types.ArtifactEnvelope{}).Error
	})
}

// applySelection narrows a query per the policy. Returns the possibly-reordered
// query and whether it installed its own ordering.
func (s *Store) applySelection(ctx context.Context, base *gorm.DB, dbq *gorm.DB, assetID uuid.UUID, q Query) (*gorm.DB, bool, error) {
	policy := q.Selection
	switch policy.Mode {
	case types.SelectionModeDefault, "":
		return dbq, false, nil
	case types.SelectionModePinned:
		if policy.PinnedRunID == nil {
			return dbq, false, nil
		}
		// A pinned run that has vanished falls back to no restriction.
		var n int64
		if err := base.WithContext(ctx).Model(&types.Run{}).Where("id = ?", *policy.PinnedRunID).Count(&n).Error; err != nil {
			return nil, false, err
		}
		if n == 0 {
			s.log.Warn("pinned run vanished, falling back to default selection",
				"asset_id", assetID, "pinned_run_id", *policy.PinnedRunID)
			return dbq, false, nil
		}
		return dbq.Where("run_id = ?", *policy.PinnedRunID), false, nil
	case types.SelectionModeProfile:
		return dbq.Where("model_profile = ?", policy.PreferredProfile), false, nil
	case types.SelectionModeLatest:
		sub := base.WithContext(ctx).Model(&types.ArtifactEnvelope{}).
			Select("run_id").
			Where("asset_id = ?", assetID).
			Order("created_at DESC").
			Limit(1)
		if q.ArtifactType != "" {
			sub = sub.Where("artifact_type = ?", q.ArtifactType)
		}
		return dbq.Where("run_id = (?)", sub), false, nil
	case types.SelectionModeBestQuality:
		// high_quality > balanced > fast; ties go to the newest envelope.
		dbq = dbq.Order(profileRankExpr() + ", created_at DESC, span_start_ms ASC")
		return dbq, true, nil
	default:
		return nil, false, apperr.Validationf("selection_mode", "unknown selection mode %q", policy.Mode)
	}
}

func profileRankExpr() string {
	return `CASE model_profile WHEN 'high_quality' THEN 0 WHEN 'balanced' THEN 1 WHEN 'fast' THEN 2 ELSE 3 END ASC`
}

func validateSpan(env *types.ArtifactEnvelope) error {
	if env.SpanStartMS < 0 || env.SpanEndMS < 0 {
		return apperr.Validationf("span_negative", "span must be >= 0, got [%d, %d]", env.SpanStartMS, env.SpanEndMS)
	}
	if env.SpanStartMS > env.SpanEndMS {
		return apperr.Validationf("span_inverted", "span start %d > end %d", env.SpanStartMS, env.SpanEndMS)
	}
	if env.AssetID == uuid.Nil {
		return apperr.Validationf("asset_missing", "envelope requires asset_id")
	}
	if env.RunID == uuid.Nil {
		return apperr.Validationf("run_missing", "envelope requires run_id")
	}
	if env.SchemaVersion < 1 {
		return apperr.Validationf("schema_version", "schema_version must be >= 1, got %d", env.SchemaVersion)
	}
	switch env.ModelProfile {
	case types.ModelProfileFast, types.ModelProfileBalanced, types.ModelProfileHighQuality:
	default:
		return apperr.Validationf("model_profile", "unknown model profile %q", env.ModelProfile)
	}
	return nil
}
