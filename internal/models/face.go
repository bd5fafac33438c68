package models

import (
	"time"

	"github.com/google/uuid"
)

// BoundingBox locates a face inside its image, in pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Face struct {
	ID            uuid.UUID   `json:"id" db:"id"`
	ImageID       uuid.UUID   `json:"image_id" db:"image_id"`
	Embedding     []float32   `json:"-" db:"embedding"`
	BoundingBox   BoundingBox `json:"bounding_box" db:"bounding_box"`
	Confidence    float32     `json:"confidence" db:"confidence"`
	PersonGroupID *uuid.UUID  `json:"person_group_id,omitempty" db:"person_group_id"`
	DetectedAt    time.Time   `json:"detected_at" db:"detected_at"`
}
