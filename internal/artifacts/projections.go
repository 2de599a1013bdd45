package artifacts

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/videolens/videolens-backend/internal/artifacts/schema"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

// Geocoder resolves coordinates to place names for the video_locations
// projection. The zero-value NoopGeocoder leaves the fields empty; reverse
// geocoding itself lives outside the core.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (country, state, city string, err error)
}

type NoopGeocoder struct{}

func (NoopGeocoder) Reverse(ctx context.Context, lat, lon float64) (string, string, string, error) {
	return "", "", "", nil
}

// ProjectionHandler keeps one derived table in step with envelope writes. Sync
// and Remove always run inside the transaction that writes or deletes the
// envelope; a handler error rolls the whole envelope operation back.
type ProjectionHandler interface {
	ArtifactType() string
	Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error
	Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error
}

// ProjectionRegistry dispatches envelopes to their handler. Types without a
// handler are no-ops: the envelope persists, nothing is projected.
type ProjectionRegistry struct {
	handlers map[string]ProjectionHandler
	log      *logger.Logger
}

func NewProjectionRegistry(ftsMode db.FTSMode, geo Geocoder, baseLog *logger.Logger) *ProjectionRegistry {
	if geo == nil {
		geo = NoopGeocoder{}
	}
	log := baseLog.With("component", "ProjectionRegistry")
	r := &ProjectionRegistry{handlers: map[string]ProjectionHandler{}, log: log}
	for _, h := range []ProjectionHandler{
		&sceneHandler{},
		&objectLabelHandler{artifactType: types.ArtifactTypeObjectDetection},
		&placeHandler{},
		&faceHandler{},
		&textHandler{artifactType: types.ArtifactTypeTranscriptSegment, fts: ftsMode, ftsTable: "transcript_fts"},
		&textHandler{artifactType: types.ArtifactTypeOCRText, fts: ftsMode, ftsTable: "ocr_fts"},
		&locationHandler{geo: geo, log: log},
	} {
		r.handlers[h.ArtifactType()] = h
	}
	return r
}

func (r *ProjectionRegistry) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	h, ok := r.handlers[env.ArtifactType]
	if !ok {
		return nil
	}
	return h.Sync(ctx, tx, env, payload)
}

func (r *ProjectionRegistry) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	h, ok := r.handlers[env.ArtifactType]
	if !ok {
		return nil
	}
	return h.Remove(ctx, tx, env)
}

func upsertByArtifact(tx *gorm.DB, columns []string, row interface{}) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "artifact_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}

type sceneHandler struct{}

func (h *sceneHandler) ArtifactType() string { return types.ArtifactTypeScene }

func (h *sceneHandler) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	p, ok := payload.(*schema.ScenePayload)
	if !ok {
		return fmt.Errorf("scene handler got %T", payload)
	}
	return upsertByArtifact(tx.WithContext(ctx),
		[]string{"asset_id", "scene_index", "start_ms", "end_ms"},
		&types.SceneRange{
			ArtifactID: env.ID,
			AssetID:    env.AssetID,
			SceneIndex: p.SceneIndex,
			StartMS:    env.SpanStartMS,
			EndMS:      env.SpanEndMS,
		})
}

func (h *sceneHandler) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	return tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.SceneRange{}).Error
}

type objectLabelHandler struct {
	artifactType string
}

func (h *objectLabelHandler) ArtifactType() string { return h.artifactType }

func (h *objectLabelHandler) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	p, ok := payload.(*schema.ObjectDetectionPayload)
	if !ok {
		return fmt.Errorf("object label handler got %T", payload)
	}
	return upsertObjectLabel(ctx, tx, env, p.Label, p.Confidence)
}

func (h *objectLabelHandler) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	return tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.ObjectLabel{}).Error
}

// placeHandler shares the object_labels table; places are told apart from
// objects at query time through the source envelope's artifact_type.
type placeHandler struct{}

func (h *placeHandler) ArtifactType() string { return types.ArtifactTypePlaceClassification }

func (h *placeHandler) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	p, ok := payload.(*schema.PlaceClassificationPayload)
	if !ok {
		return fmt.Errorf("place handler got %T", payload)
	}
	return upsertObjectLabel(ctx, tx, env, p.Label, p.Confidence)
}

func (h *placeHandler) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	return tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.ObjectLabel{}).Error
}

func upsertObjectLabel(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, label string, confidence float64) error {
	return upsertByArtifact(tx.WithContext(ctx),
		[]string{"asset_id", "label", "confidence", "start_ms", "end_ms"},
		&types.ObjectLabel{
			ArtifactID: env.ID,
			AssetID:    env.AssetID,
			Label:      label,
			Confidence: confidence,
			StartMS:    env.SpanStartMS,
			EndMS:      env.SpanEndMS,
		})
}

type faceHandler struct{}

func (h *faceHandler) ArtifactType() string { return types.ArtifactTypeFaceDetection }

func (h *faceHandler) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	p, ok := payload.(*schema.FaceDetectionPayload)
	if !ok {
		return fmt.Errorf("face handler got %T", payload)
	}
	return upsertByArtifact(tx.WithContext(ctx),
		[]string{"asset_id", "cluster_id", "confidence", "start_ms", "end_ms"},
		&types.FaceCluster{
			ArtifactID: env.ID,
			AssetID:    env.AssetID,
			ClusterID:  p.ClusterID,
			Confidence: p.Confidence,
			StartMS:    env.SpanStartMS,
			EndMS:      env.SpanEndMS,
		})
}

func (h *faceHandler) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	return tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.FaceCluster{}).Error
}

// textHandler covers both transcript.segment and ocr.text envelopes; the two
// differ only in destination table and FTS shadow.
type textHandler struct {
	artifactType string
	fts          db.FTSMode
	ftsTable     string
}

func (h *textHandler) ArtifactType() string { return h.artifactType }

func (h *textHandler) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	var text string
	switch p := payload.(type) {
	case *schema.TranscriptSegmentPayload:
		text = p.Text
	case *schema.OCRTextPayload:
		text = p.Text
	default:
		return fmt.Errorf("text handler got %T", payload)
	}

	var row interface{}
	var columns []string
	if h.artifactType == types.ArtifactTypeTranscriptSegment {
		row = &types.TranscriptSegment{ArtifactID: env.ID, AssetID: env.AssetID, StartMS: env.SpanStartMS, EndMS: env.SpanEndMS, Text: text}
	} else {
		row = &types.OCRText{ArtifactID: env.ID, AssetID: env.AssetID, StartMS: env.SpanStartMS, EndMS: env.SpanEndMS, Text: text}
	}
	columns = []string{"asset_id", "start_ms", "end_ms", "text"}
	if err := upsertByArtifact(tx.WithContext(ctx), columns, row); err != nil {
		return err
	}

	// FTS5 shadow table on sqlite. Delete-then-insert keeps re-syncs idempotent.
	if h.fts == db.FTSSQLite {
		if err := tx.WithContext(ctx).Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE artifact_id = ?`, h.ftsTable), env.ID.String()).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			fmt.Sprintf(`INSERT INTO %s (artifact_id, asset_id, start_ms, end_ms, text) VALUES (?, ?, ?, ?, ?)`, h.ftsTable),
			env.ID.String(), env.AssetID.String(), env.SpanStartMS, env.SpanEndMS, text).Error; err != nil {
			return err
		}
	}
	return nil
}

func (h *textHandler) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	if h.artifactType == types.ArtifactTypeTranscriptSegment {
		if err := tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.TranscriptSegment{}).Error; err != nil {
			return err
		}
	} else {
		if err := tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.OCRText{}).Error; err != nil {
			return err
		}
	}
	if h.fts == db.FTSSQLite {
		return tx.WithContext(ctx).Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE artifact_id = ?`, h.ftsTable), env.ID.String()).Error
	}
	return nil
}

// locationHandler projects video.metadata envelopes that carry a valid
// coordinate pair into video_locations, one row per video.
type locationHandler struct {
	geo Geocoder
	log *logger.Logger
}

func (h *locationHandler) ArtifactType() string { return types.ArtifactTypeVideoMetadata }

func (h *locationHandler) Sync(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope, payload schema.Payload) error {
	p, ok := payload.(*schema.VideoMetadataPayload)
	if !ok {
		return fmt.Errorf("location handler got %T", payload)
	}
	if !p.HasLocation() {
		return nil
	}
	country, state, city, err := h.geo.Reverse(ctx, *p.Latitude, *p.Longitude)
	if err != nil {
		// Geocoding is an enrichment; a lookup failure never rolls back the envelope.
		h.log.Warn("reverse geocode failed", "video_id", env.AssetID, "error", err)
	}
	row := &types.VideoLocation{
		ArtifactID: env.ID,
		VideoID:    env.AssetID,
		Latitude:   *p.Latitude,
		Longitude:  *p.Longitude,
		Altitude:   p.Altitude,
		Country:    country,
		State:      state,
		City:       city,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"artifact_id", "latitude", "longitude", "altitude", "country", "state", "city"}),
	}).Create(row).Error
}

func (h *locationHandler) Remove(ctx context.Context, tx *gorm.DB, env *types.ArtifactEnvelope) error {
	return tx.WithContext(ctx).Where("artifact_id = ?", env.ID).Delete(&types.VideoLocation{}).Error
}
