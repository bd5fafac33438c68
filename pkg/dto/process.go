package dto

import (
	"github.com/google/uuid"
)

type ProcessResponse struct {
	ImageID uuid.UUID `json:"image_id"`
	Status  string    `json:"status"`
	Queued  bool      `json:"queued"`
}

type ProcessingStatusResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	QueueDepth int `json:"queue_depth"`
}

type StatsResponse struct {
	Images         int `json:"images"`
	Faces          int `json:"faces"`
	UngroupedFaces int `json:"ungrouped_faces"`
	Groups         int `json:"groups"`
}

// WSEvent is the envelope pushed to websocket subscribers when image
// processing finishes.
type WSEvent struct {
	Type          string    `json:"type"`
	ImageID       uuid.UUID `json:"image_id"`
	Status        string    `json:"status"`
	FacesDetected int       `json:"faces_detected"`
	GroupsMatched int       `json:"groups_matched"`
	GroupsCreated int       `json:"groups_created"`
	Error         string    `json:"error,omitempty"`
	Timestamp     string    `json:"timestamp"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
