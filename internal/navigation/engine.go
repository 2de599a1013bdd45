package navigation

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/videolens/videolens-backend/internal/apperr"
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/types"
)

// Navigation kinds. Each maps to one projection table.
const (
	KindObject     = "object"
	KindFace       = "face"
	KindTranscript = "transcript"
	KindOCR        = "ocr"
	KindScene      = "scene"
	KindPlace      = "place"
	KindLocation   = "location"
)

const (
	defaultSearchLimit = 20
	maxResultLimit     = 50
)

// GeoBounds is an inclusive bounding box for the location kind.
type GeoBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// JumpFilter describes a jump request. VideoID/FromMS are the current
// position; a zero VideoID means "from the start of the timeline" (next) or
// "from its end" (prev). Label and Query are mutually exclusive. Limit
// defaults to 1.
type JumpFilter struct {
	Kind          string
	Label         string
	Query         string
	MinConfidence *float64
	Bounds        *GeoBounds
	VideoID       uuid.UUID
	FromMS        *int64
	Limit         int
}

type Span struct {
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// Hit is one landing position on the global timeline.
type Hit struct {
	VideoID       uuid.UUID  `json:"video_id"`
	VideoFilename string     `json:"video_filename"`
	FileCreatedAt *time.Time `json:"file_created_at,omitempty"`
	JumpTo        Span       `json:"jump_to"`
	ArtifactID    uuid.UUID  `json:"artifact_id,omitempty"`
	Preview       string     `json:"preview,omitempty"`
	// ArtifactCount is set when collapsing per video.
	ArtifactCount int64 `json:"artifact_count,omitempty"`
}

// JumpResult carries the first Limit hits in jump order; HasMore reports
// whether another hit exists past them in the same direction.
type JumpResult struct {
	Hits    []Hit `json:"hits"`
	HasMore bool  `json:"has_more"`
}

// SearchFilter drives the paginated gallery search.
type SearchFilter struct {
	Kind             string
	Label            string
	Query            string
	MinConfidence    *float64
	Bounds           *GeoBounds
	Limit            int
	Offset           int
	CollapsePerVideo bool
}

type SearchResult struct {
	Hits    []Hit `json:"hits"`
	HasMore bool  `json:"has_more"`
}

// Engine answers "next occurrence of X" over every processed video at once.
// Ordering is the global timeline: file_created_at ascending, videos without
// a creation date after every dated one, ties broken by video id, then by
// position within the video. Comparisons against the current position are
// strict, so repeated jumps always make progress.
type Engine struct {
	dbs *db.Service
	log *logger.Logger
}

func NewEngine(dbs *db.Service, baseLog *logger.Logger) *Engine {
	return &Engine{dbs: dbs, log: baseLog.With("component", "NavigationEngine")}
}

// kindSpec wires one kind to its projection table.
type kindSpec struct {
	from          string
	previewExpr   string
	startExpr     string // "p.start_ms", or "0" for kinds without timing
	endExpr       string
	labelCond     string // equality condition for Label, empty if unsupported
	labelArgCount int
	hasText       bool
	hasConfidence bool
	hasGeo        bool
	substrCond    string // substring condition for Query on kinds without FTS
	substrArgs    int
	textTable     string // projection table name for FTS lookup
	ftsShadow     string // sqlite shadow table
}

func kindSpecFor(kind string) (kindSpec, error) {
	switch kind {
	case KindObject:
		return kindSpec{
			from: `object_labels p
				JOIN artifact_envelope ae ON ae.id = p.artifact_id AND ae.artifact_type = 'object.detection'
				JOIN video v ON v.id = p.asset_id`,
			previewExpr:   "p.label",
			startExpr:     "p.start_ms",
			endExpr:       "p.end_ms",
			labelCond:     "p.label = ?",
			labelArgCount: 1,
			hasConfidence: true,
		}, nil
	case KindPlace:
		return kindSpec{
			from: `object_labels p
				JOIN artifact_envelope ae ON ae.id = p.artifact_id AND ae.artifact_type = 'place.classification'
				JOIN video v ON v.id = p.asset_id`,
			previewExpr:   "p.label",
			startExpr:     "p.start_ms",
			endExpr:       "p.end_ms",
			labelCond:     "p.label = ?",
			labelArgCount: 1,
			hasConfidence: true,
		}, nil
	case KindFace:
		return kindSpec{
			from:          `face_clusters p JOIN video v ON v.id = p.asset_id`,
			previewExpr:   "p.cluster_id",
			startExpr:     "p.start_ms",
			endExpr:       "p.end_ms",
			labelCond:     "p.cluster_id = ?",
			labelArgCount: 1,
			hasConfidence: true,
		}, nil
	case KindTranscript:
		return kindSpec{
			from:        `transcript_segments p JOIN video v ON v.id = p.asset_id`,
			previewExpr: "p.text",
			startExpr:   "p.start_ms",
			endExpr:     "p.end_ms",
			hasText:     true,
			textTable:   "transcript_segments",
			ftsShadow:   "transcript_fts",
		}, nil
	case KindOCR:
		return kindSpec{
			from:        `ocr_texts p JOIN video v ON v.id = p.asset_id`,
			previewExpr: "p.text",
			startExpr:   "p.start_ms",
			endExpr:     "p.end_ms",
			hasText:     true,
			textTable:   "ocr_texts",
			ftsShadow:   "ocr_fts",
		}, nil
	case KindScene:
		return kindSpec{
			from:        `scene_ranges p JOIN video v ON v.id = p.asset_id`,
			previewExpr: "'scene ' || CAST(p.scene_index AS TEXT)",
			startExpr:   "p.start_ms",
			endExpr:     "p.end_ms",
		}, nil
	case KindLocation:
		return kindSpec{
			from:        `video_locations p JOIN video v ON v.id = p.video_id`,
			previewExpr: "COALESCE(NULLIF(p.city, ''), NULLIF(p.state, ''), NULLIF(p.country, ''), '')",
			startExpr:   "0",
			endExpr:     "0",
			hasGeo:      true,
			substrCond:  "(LOWER(p.country) LIKE ? OR LOWER(p.state) LIKE ? OR LOWER(p.city) LIKE ?)",
			substrArgs:  3,
		}, nil
	default:
		return kindSpec{}, apperr.Validationf("nav_kind", "unknown navigation kind %q", kind)
	}
}

func (e *Engine) JumpNext(ctx context.Context, f JumpFilter) (*JumpResult, error) {
	return e.jump(ctx, f, true)
}

func (e *Engine) JumpPrev(ctx context.Context, f JumpFilter) (*JumpResult, error) {
	return e.jump(ctx, f, false)
}

type hitRow struct {
	VideoID       uuid.UUID  `gorm:"column:video_id"`
	Filename      string     `gorm:"column:filename"`
	FileCreatedAt *time.Time `gorm:"column:file_created_at"`
	StartMS       int64      `gorm:"column:start_ms"`
	EndMS         int64      `gorm:"column:end_ms"`
	ArtifactID    uuid.UUID  `gorm:"column:artifact_id"`
	Preview       string     `gorm:"column:preview"`
	ArtifactCount int64      `gorm:"column:artifact_count"`
}

func (e *Engine) jump(ctx context.Context, f JumpFilter, forward bool) (*JumpResult, error) {
	spec, err := kindSpecFor(f.Kind)
	if err != nil {
		return nil, err
	}
	if err := validateFilters(spec, f.Kind, f.Label, f.Query, f.MinConfidence, f.Bounds); err != nil {
		return nil, err
	}
	if f.FromMS != nil && *f.FromMS < 0 {
		return nil, apperr.Validationf("nav_from_ms", "from_ms must be >= 0, got %d", *f.FromMS)
	}
	limit := f.Limit
	if limit == 0 {
		limit = 1
	}
	if limit < 1 || limit > maxResultLimit {
		return nil, apperr.Validationf("nav_limit", "limit must be in [1, %d], got %d", maxResultLimit, f.Limit)
	}

	conds, args, likeFallback := e.matchConditions(spec, f.Label, f.Query, f.MinConfidence, f.Bounds)

	if f.VideoID != uuid.Nil {
		var video types.Video
		dbErr := e.dbs.DB().WithContext(ctx).Where("id = ?", f.VideoID).First(&video).Error
		if errors.Is(dbErr, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("video_not_found", "video %s not found", f.VideoID)
		}
		if dbErr != nil {
			return nil, dbErr
		}
		fromMS := int64(0)
		if !forward {
			fromMS = math.MaxInt64
		}
		if f.FromMS != nil {
			fromMS = *f.FromMS
		}
		cond, posArgs := directionPredicate(spec.startExpr, forward, video.FileCreatedAt, video.ID, fromMS)
		conds = append(conds, cond)
		args = append(args, posArgs...)
	}

	order := orderClause(spec.startExpr, forward)
	rows, err := e.runHitQuery(ctx, spec, conds, args, order, limit+1, 0, false)
	if err != nil {
		return nil, err
	}
	// Native full-text can miss (stop words, stemming); substring match is the
	// safety net before reporting nothing.
	if len(rows) == 0 && likeFallback != nil {
		conds2, args2 := likeFallback(conds, args)
		rows, err = e.runHitQuery(ctx, spec, conds2, args2, order, limit+1, 0, false)
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return &JumpResult{Hits: hitsFromRows(rows), HasMore: hasMore}, nil
}

// Search pages through every match in global-timeline order.
func (e *Engine) Search(ctx context.Context, f SearchFilter) (*SearchResult, error) {
	spec, err := kindSpecFor(f.Kind)
	if err != nil {
		return nil, err
	}
	if err := validateFilters(spec, f.Kind, f.Label, f.Query, f.MinConfidence, f.Bounds); err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit == 0 {
		limit = defaultSearchLimit
	}
	if limit < 1 || limit > maxResultLimit {
		return nil, apperr.Validationf("nav_limit", "limit must be in [1, %d], got %d", maxResultLimit, f.Limit)
	}
	if f.Offset < 0 {
		return nil, apperr.Validationf("nav_offset", "offset must be >= 0, got %d", f.Offset)
	}

	conds, args, likeFallback := e.matchConditions(spec, f.Label, f.Query, f.MinConfidence, f.Bounds)
	order := orderClause(spec.startExpr, true)

	rows, err := e.runHitQuery(ctx, spec, conds, args, order, limit+1, f.Offset, f.CollapsePerVideo)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 && f.Offset == 0 && likeFallback != nil {
		conds2, args2 := likeFallback(conds, args)
		rows, err = e.runHitQuery(ctx, spec, conds2, args2, order, limit+1, f.Offset, f.CollapsePerVideo)
		if err != nil {
			return nil, err
		}
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return &SearchResult{Hits: hitsFromRows(rows), HasMore: hasMore}, nil
}

func hitsFromRows(rows []hitRow) []Hit {
	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, Hit{
			VideoID:       r.VideoID,
			VideoFilename: r.Filename,
			FileCreatedAt: r.FileCreatedAt,
			JumpTo:        Span{StartMS: r.StartMS, EndMS: r.EndMS},
			ArtifactID:    r.ArtifactID,
			Preview:       r.Preview,
			ArtifactCount: r.ArtifactCount,
		})
	}
	return hits
}

func (e *Engine) runHitQuery(ctx context.Context, spec kindSpec, conds []string, args []interface{}, order string, limit, offset int, collapse bool) ([]hitRow, error) {
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	var sql string
	if collapse {
		sql = `SELECT v.id AS video_id, v.filename, v.file_created_at,
			MIN(` + spec.startExpr + `) AS start_ms, MIN(` + spec.endExpr + `) AS end_ms,
			MIN(` + spec.previewExpr + `) AS preview, COUNT(*) AS artifact_count
			FROM ` + spec.from + where + `
			GROUP BY v.id, v.filename, v.file_created_at
			ORDER BY (v.file_created_at IS NULL) ASC, v.file_created_at ASC, v.id ASC`
	} else {
		sql = `SELECT v.id AS video_id, v.filename, v.file_created_at,
			` + spec.startExpr + ` AS start_ms, ` + spec.endExpr + ` AS end_ms,
			p.artifact_id, ` + spec.previewExpr + ` AS preview
			FROM ` + spec.from + where + `
			ORDER BY ` + order
	}
	sql += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []hitRow
	if err := e.dbs.DB().WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// matchConditions builds the label/text/confidence/bounds WHERE terms. The
// returned fallback, when non-nil, rewrites the text term to a substring
// match.
func (e *Engine) matchConditions(spec kindSpec, label, query string, minConfidence *float64, bounds *GeoBounds) ([]string, []interface{}, func([]string, []interface{}) ([]string, []interface{})) {
	var conds []string
	var args []interface{}

	if label != "" {
		conds = append(conds, spec.labelCond)
		for i := 0; i < spec.labelArgCount; i++ {
			args = append(args, label)
		}
	}
	if minConfidence != nil {
		conds = append(conds, "p.confidence >= ?")
		args = append(args, *minConfidence)
	}
	if bounds != nil {
		conds = append(conds, "p.latitude >= ? AND p.latitude <= ? AND p.longitude >= ? AND p.longitude <= ?")
		args = append(args, bounds.MinLat, bounds.MaxLat, bounds.MinLon, bounds.MaxLon)
	}

	var fallback func([]string, []interface{}) ([]string, []interface{})
	if query != "" && spec.substrCond != "" {
		// Kinds without an FTS index match by substring directly.
		conds = append(conds, spec.substrCond)
		arg := "%" + strings.ToLower(query) + "%"
		for i := 0; i < spec.substrArgs; i++ {
			args = append(args, arg)
		}
	} else if query != "" {
		likeCond := "LOWER(p.text) LIKE ?"
		likeArg := "%" + strings.ToLower(query) + "%"
		textCondIdx := len(conds)
		textArgIdx := len(args)
		switch e.dbs.FTS() {
		case db.FTSPostgres:
			conds = append(conds, "p.text_tsv @@ plainto_tsquery('simple', ?)")
			args = append(args, query)
		case db.FTSSQLite:
			conds = append(conds, "p.artifact_id IN (SELECT artifact_id FROM "+spec.ftsShadow+" WHERE "+spec.ftsShadow+" MATCH ?)")
			args = append(args, fts5Quote(query))
		default:
			conds = append(conds, likeCond)
			args = append(args, likeArg)
		}
		if e.dbs.FTS() != db.FTSLike {
			fallback = func(c []string, a []interface{}) ([]string, []interface{}) {
				c2 := append([]string(nil), c...)
				a2 := append([]interface{}(nil), a...)
				c2[textCondIdx] = likeCond
				a2[textArgIdx] = likeArg
				return c2, a2
			}
		}
	}
	return conds, args, fallback
}

// fts5Quote wraps the query as a quoted phrase so user input never reaches
// the MATCH syntax parser.
func fts5Quote(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// directionPredicate selects everything strictly after (forward) or strictly
// before the position (createdAt, videoID, fromMS) on the global timeline.
// Videos without a creation date sit at the end of the timeline, ordered by id.
func directionPredicate(startExpr string, forward bool, createdAt *time.Time, videoID uuid.UUID, fromMS int64) (string, []interface{}) {
	if forward {
		if createdAt != nil {
			return `(v.file_created_at IS NULL
				OR v.file_created_at > ?
				OR (v.file_created_at = ? AND v.id > ?)
				OR (v.id = ? AND ` + startExpr + ` > ?))`,
				[]interface{}{*createdAt, *createdAt, videoID, videoID, fromMS}
		}
		return `((v.file_created_at IS NULL AND v.id > ?)
			OR (v.id = ? AND ` + startExpr + ` > ?))`,
			[]interface{}{videoID, videoID, fromMS}
	}
	if createdAt != nil {
		return `((v.file_created_at IS NOT NULL AND v.file_created_at < ?)
			OR (v.file_created_at = ? AND v.id < ?)
			OR (v.id = ? AND ` + startExpr + ` < ?))`,
			[]interface{}{*createdAt, *createdAt, videoID, videoID, fromMS}
	}
	return `(v.file_created_at IS NOT NULL
		OR (v.file_created_at IS NULL AND v.id < ?)
		OR (v.id = ? AND ` + startExpr + ` < ?))`,
		[]interface{}{videoID, videoID, fromMS}
}

func orderClause(startExpr string, forward bool) string {
	if forward {
		order := "(v.file_created_at IS NULL) ASC, v.file_created_at ASC, v.id ASC"
		// A literal "0" would be read as a column ordinal; kinds without
		// timing have nothing to order within a video anyway.
		if startExpr != "0" {
			order += ", " + startExpr + " ASC"
		}
		return order
	}
	order := "(v.file_created_at IS NULL) DESC, v.file_created_at DESC, v.id DESC"
	if startExpr != "0" {
		order += ", " + startExpr + " DESC"
	}
	return order
}

func validateFilters(spec kindSpec, kind, label, query string, minConfidence *float64, bounds *GeoBounds) error {
	if label != "" && query != "" {
		return apperr.Validationf("nav_filters", "label and query are mutually exclusive")
	}
	if label != "" && spec.labelCond == "" {
		return apperr.Validationf("nav_filters", "kind %q does not support label filtering", kind)
	}
	if query != "" && !spec.hasText && spec.substrCond == "" {
		return apperr.Validationf("nav_filters", "kind %q does not support text queries", kind)
	}
	if minConfidence != nil {
		if !spec.hasConfidence {
			return apperr.Validationf("nav_filters", "kind %q does not support confidence filtering", kind)
		}
		if *minConfidence < 0 || *minConfidence > 1 {
			return apperr.Validationf("nav_confidence", "min confidence %f outside [0,1]", *minConfidence)
		}
	}
	if bounds != nil {
		if !spec.hasGeo {
			return apperr.Validationf("nav_filters", "kind %q does not support geo bounds", kind)
		}
		if bounds.MinLat < -90 || bounds.MaxLat > 90 || bounds.MinLat > bounds.MaxLat {
			return apperr.Validationf("nav_bounds", "latitude bounds [%f, %f] invalid", bounds.MinLat, bounds.MaxLat)
		}
		if bounds.MinLon < -180 || bounds.MaxLon > 180 || bounds.MinLon > bounds.MaxLon {
			return apperr.Validationf("nav_bounds", "longitude bounds [%f, %f] invalid", bounds.MinLon, bounds.MaxLon)
		}
	}
	return nil
}
