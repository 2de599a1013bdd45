package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

type SelectionPolicyRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, policy *types.SelectionPolicy) (*types.SelectionPolicy, error)
	Get(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, artifactType string) (*types.SelectionPolicy, error)
	Delete(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, artifactType string) error
}

type selectionPolicyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSelectionPolicyRepo(db *gorm.DB, baseLog *logger.Logger) SelectionPolicyRepo {
	return &selectionPolicyRepo{
		db:  db,
		log: baseLog.With("repo", "SelectionPolicyRepo"),
	}
}

func (r *selectionPolicyRepo) Upsert(ctx context.Context, tx *gorm.DB, policy *types.SelectionPolicy) (*types.SelectionPolicy, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if policy == nil {
		return nil, nil
	}
	if err := validatePolicy(policy); err != nil {
		return nil, err
	}
	policy.UpdatedAt = time.Now()
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "asset_id"}, {Name: "artifact_type"}},
			DoUpdates: clause.AssignmentColumns([]string{"mode", "pinned_run_id", "preferred_profile", "updated_at"}),
		}).
		Create(policy).Error
	if err != nil {
		return nil, err
	}
	return policy, nil
}

func (r *selectionPolicyRepo) Get(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, artifactType string) (*types.SelectionPolicy, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var policy types.SelectionPolicy
	err := transaction.WithContext(ctx).
		Where("asset_id = ? AND artifact_type = ?", assetID, artifactType).
		First(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (r *selectionPolicyRepo) Delete(ctx context.Context, tx *gorm.DB, assetID uuid.UUID, artifactType string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("asset_id = ? AND artifact_type = ?", assetID, artifactType).
		Delete(&types.SelectionPolicy{}).Error
}

func validatePolicy(policy *types.SelectionPolicy) error {
	switch policy.Mode {
	case types.SelectionModeDefault, types.SelectionModeLatest, types.SelectionModeBestQuality:
		return nil
	case types.SelectionModePinned:
		if policy.PinnedRunID == nil || *policy.PinnedRunID == uuid.Nil {
			return apperr.Validationf("policy_pin", "pinned mode requires pinned_run_id")
		}
		return nil
	case types.SelectionModeProfile:
		switch policy.PreferredProfile {
		case types.ModelProfileFast, types.ModelProfileBalanced, types.ModelProfileHighQuality:
			return nil
		default:
			return apperr.Validationf("policy_profile", "profile mode requires a valid preferred_profile, got %q", policy.PreferredProfile)
		}
	default:
		return apperr.Validationf("policy_mode", "unknown selection mode %q", policy.Mode)
	}
}
