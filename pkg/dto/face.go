package dto

import (
	"github.com/google/uuid"
)

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type FaceResponse struct {
	ID            uuid.UUID   `json:"id"`
	ImageID       uuid.UUID   `json:"image_id"`
	BoundingBox   BoundingBox `json:"bounding_box"`
	Confidence    float32     `json:"confidence"`
	PersonGroupID *uuid.UUID  `json:"person_group_id,omitempty"`
	DetectedAt    string      `json:"detected_at"`
}

type FaceListResponse struct {
	Faces []FaceResponse `json:"faces"`
	Total int            `json:"total"`
}
