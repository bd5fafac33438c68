package dto

import (
	"github.com/google/uuid"
)

type ImageResponse struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	StorageURL  string    `json:"storage_url"`
	MimeType    string    `json:"mime_type"`
	FileSize    int64     `json:"file_size"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Status      string    `json:"status"`
	FaceCount   int       `json:"face_count"`
	UploadedAt  string    `json:"uploaded_at"`
	ProcessedAt string    `json:"processed_at,omitempty"`
}

type ImageListResponse struct {
	Images []ImageResponse `json:"images"`
	Total  int             `json:"total"`
}

// UploadResult reports the outcome for one file of an upload batch. Error is
// set when the file was rejected; Image is set when it was stored.
type UploadResult struct {
	Filename string         `json:"filename"`
	Image    *ImageResponse `json:"image,omitempty"`
	Queued   bool           `json:"queued"`
	Error    string         `json:"error,omitempty"`
}

type UploadResponse struct {
	Uploaded []UploadResult `json:"uploaded"`
}

type ImageDiagnosticsResponse struct {
	Image ImageResponse  `json:"image"`
	Faces []FaceResponse `json:"faces"`
}
