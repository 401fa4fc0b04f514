package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
)

type AssetType string

const (
	AssetTypeImage AssetType = "image"
	AssetTypeVideo AssetType = "video"
)

type OverlayType string

const (
	OverlayTypeText  OverlayType = "text"
	OverlayTypeImage OverlayType = "image"
)

// TextStyle selects how a text overlay is drawn.
type TextStyle string

const (
	TextStylePlain    TextStyle = "plain"
	TextStyleOutlined TextStyle = "outlined"
	TextStyleShadow   TextStyle = "shadow"
	TextStyleBoxed    TextStyle = "boxed"
	TextStyleGlow     TextStyle = "glow"
)

type VisualizerStyle string

const (
	VisualizerBar      VisualizerStyle = "bar"
	VisualizerLine     VisualizerStyle = "line"
	VisualizerWave     VisualizerStyle = "wave"
	VisualizerSpectrum VisualizerStyle = "spectrum"
	VisualizerRound    VisualizerStyle = "round"
)

// JSON is a nullable JSONB column holding a typed document.
type JSON[T any] struct {
	V     T
	Valid bool
}

func NewJSON[T any](v T) JSON[T] {
	return JSON[T]{V: v, Valid: true}
}

func (j JSON[T]) Value() (driver.Value, error) {
	if !j.Valid {
		return nil, nil
	}
	return json.Marshal(j.V)
}

func (j *JSON[T]) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*j = JSON[T]{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode JSON column: %w", err)
	}
	j.V = out
	j.Valid = true
	return nil
}

// MarshalJSON renders the document itself, or null.
func (j JSON[T]) MarshalJSON() ([]byte, error) {
	if !j.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(j.V)
}

func (j *JSON[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*j = JSON[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*j = JSON[T]{V: v, Valid: true}
	return nil
}

// Models

type Job struct {
	ID               uuid.UUID              `json:"id"`
	ProjectID        uuid.UUID              `json:"project_id"`
	AnimationID      *uuid.UUID             `json:"animation_id,omitempty"`
	Status           JobStatus              `json:"status"`
	Progress         int                    `json:"progress"`
	Title            string                 `json:"title"`
	Speed            float64                `json:"speed"`
	TrimStart        float64                `json:"trim_start"`
	TrimEnd          float64                `json:"trim_end"`
	DefaultLoopCount *int                   `json:"default_loop_count,omitempty"`
	Overlays         JSON[OverlayConfig]    `json:"overlay_config"`
	Visualizer       JSON[VisualizerConfig] `json:"visualizer_config"`
	OutputURL        *string                `json:"output_url,omitempty"`
	ThumbnailURL     *string                `json:"thumbnail_url,omitempty"`
	Duration         *float64               `json:"duration,omitempty"`
	ErrorMessage     *string                `json:"error_message,omitempty"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	FinishedAt       *time.Time             `json:"finished_at,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// TimelineAsset is one visual entry of the job's sequence.
type TimelineAsset struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Position  int       `json:"position"`
	Type      AssetType `json:"type"`
	URL       string    `json:"url"`
	Duration  *float64  `json:"duration,omitempty"`   // images
	LoopCount *int      `json:"loop_count,omitempty"` // videos
}

type MusicTrack struct {
	ID       uuid.UUID `json:"id"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Duration *float64  `json:"duration,omitempty"`
	Position int       `json:"position"`
}

type OverlayConfig struct {
	Title TitleConfig   `json:"title"`
	Items []OverlayItem `json:"items"`
}

type TitleConfig struct {
	Enabled  bool      `json:"enabled"`
	Text     string    `json:"text"`
	Start    float64   `json:"start"`
	Duration float64   `json:"duration"`
	Fade     float64   `json:"fade"`
	Position string    `json:"position"`
	Font     string    `json:"font"`
	FontSize int       `json:"font_size"`
	Color    string    `json:"color"`
	Style    TextStyle `json:"style"`
}

type OverlayItem struct {
	ID       string      `json:"id"`
	Type     OverlayType `json:"type" validate:"oneof=text image"`
	Text     string      `json:"text,omitempty" validate:"required_if=Type text"`
	URL      string      `json:"url,omitempty" validate:"required_if=Type image"`
	Position string      `json:"position" validate:"omitempty,oneof=top-left top-center top-right center-left center center-right bottom-left bottom-center bottom-right"`
	Start    float64     `json:"start" validate:"min=0"`
	Duration float64     `json:"duration" validate:"gt=0"`
	Fade     float64     `json:"fade" validate:"min=0"`
	Font     string      `json:"font,omitempty"`
	FontSize int         `json:"font_size,omitempty" validate:"min=0"`
	Color    string      `json:"color,omitempty"`
	Style    TextStyle   `json:"style,omitempty" validate:"omitempty,oneof=plain outlined shadow boxed glow"`
	Width    int         `json:"width,omitempty" validate:"min=0"` // image overlays, pixels
}

type VisualizerConfig struct {
	Enabled  bool            `json:"enabled"`
	Style    VisualizerStyle `json:"style"`
	Color    string          `json:"color"`
	Position string          `json:"position"` // top or bottom
}

// Animation is the parent entity a render job may be linked to.
type Animation struct {
	ID           uuid.UUID `json:"id"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
}

// CustomFont is a project-scoped font upload.
type CustomFont struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
}

// JobResult is written in the single terminal update of a successful job.
type JobResult struct {
	OutputURL    string  `json:"output_url"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	Duration     float64 `json:"duration"`
}

// StatusCount is a row of the jobs-by-status summary.
type StatusCount struct {
	Status JobStatus `json:"status"`
	Count  int       `json:"count"`
}

// OverlaysConfigured reports whether the job carries an overlay document at all.
// Jobs created before overlay support have a NULL overlay_config column.
func (j *Job) OverlaysConfigured() bool {
	return j.Overlays.Valid
}

// SpeedOrDefault returns the playback multiplier, treating non-positive values as 1.
func (j *Job) SpeedOrDefault() float64 {
	if j.Speed <= 0 {
		return 1
	}
	return j.Speed
}
