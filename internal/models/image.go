package models

import (
	"time"

	"github.com/google/uuid"
)

type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "pending"
	ImageStatusProcessing ImageStatus = "processing"
	ImageStatusCompleted  ImageStatus = "completed"
	ImageStatusFailed     ImageStatus = "failed"
)

type Image struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Filename   string      `json:"filename" db:"filename"`
	StorageKey string      `json:"storage_key" db:"storage_key"`
	StorageURL string      `json:"storage_url" db:"storage_url"`
	MimeType   string      `json:"mime_type" db:"mime_type"`
	FileSize   int64       `json:"file_size" db:"file_size"`
	Width      int         `json:"width" db:"width"`
	Height     int         `json:"height" db:"height"`
	Status     ImageStatus `json:"status" db:"status"`
	UploadedAt time.Time   `json:"uploaded_at" db:"uploaded_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// ProcessTask is the message published to NATS for worker processing.
type ProcessTask struct {
	ImageID    uuid.UUID `json:"image_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ProcessedEvent is published by the worker after an image reaches a
// terminal status, for the API to broadcast to WebSocket clients.
type ProcessedEvent struct {
	ImageID       uuid.UUID   `json:"image_id"`
	Status        ImageStatus `json:"status"`
	FacesDetected int         `json:"faces_detected"`
	GroupsMatched []uuid.UUID `json:"groups_matched"`
	GroupsCreated []uuid.UUID `json:"groups_created"`
	Error         string      `json:"error,omitempty"`
}
