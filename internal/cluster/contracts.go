package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
)

// Detection is one face found by the extractor: a box, a confidence and a
// fixed-length embedding. Normalized reports whether the embedding is already
// a unit vector; the matcher re-normalizes defensively either way.
type Detection struct {
	BBox       models.BoundingBox
	Confidence float32
	Embedding  []float32
	Normalized bool
}

// ExtractionResult carries all detections for one image plus the decoded
// pixel dimensions, used to backfill the image record.
type ExtractionResult struct {
	Width      int
	Height     int
	Detections []Detection
}

// Extractor produces face detections with embeddings from raw image bytes.
// Implementations report unreadable input by wrapping ErrDecodeFailure and
// model errors by wrapping ErrExtractionFailure.
type Extractor interface {
	Detect(ctx context.Context, imageData []byte) (*ExtractionResult, error)
}

// ObjectStore is the slice of object storage the pipeline needs.
type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// Store is the persistence gateway consumed by the pipeline, matcher and
// ledger. The Postgres implementation lives in internal/storage; tests use an
// in-memory fake.
type Store interface {
	GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error)
	SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus, processedAt *time.Time) error
	SetImageDimensions(ctx context.Context, id uuid.UUID, width, height int) error

	CreateFace(ctx context.Context, face *models.Face) error
	GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error)
	SetFaceGroup(ctx context.Context, faceID uuid.UUID, groupID *uuid.UUID) error

	// PurgeImageFaces removes every face and assignment owned by an image.
	// Groups whose representative face is purged get a replacement
	// representative from outside the image, or are deleted when none exists.
	PurgeImageFaces(ctx context.Context, imageID uuid.UUID) error

	CreateGroup(ctx context.Context, name *string) (*models.PersonGroup, error)
	GetGroup(ctx context.Context, id uuid.UUID) (*models.PersonGroup, error)
	SetGroupRepresentative(ctx context.Context, groupID, faceID uuid.UUID) error
	UpsertAssignment(ctx context.Context, faceID, groupID uuid.UUID, similarity float64) error

	// NearestGroup returns the group whose representative embedding is
	// closest to the query by cosine similarity, or nil when no group has a
	// representative. Ties at equal similarity resolve by earliest group
	// creation time, then lowest group id.
	NearestGroup(ctx context.Context, embedding []float32) (*models.GroupMatch, error)

	// MergeGroups repoints all faces and assignments from source to target
	// and deletes source, atomically.
	MergeGroups(ctx context.Context, sourceID, targetID uuid.UUID) error

	// DeleteGroup detaches the group's faces, removes its assignments and
	// deletes the group, atomically. Face rows survive.
	DeleteGroup(ctx context.Context, id uuid.UUID) error

	// WithTx runs fn against a transaction-scoped view of the store,
	// committing on nil and rolling back on error.
	WithTx(ctx context.Context, fn func(tx Store) error) error
}
