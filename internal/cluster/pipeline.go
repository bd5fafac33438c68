package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
	"github.com/your-org/facegroups/internal/observability"
)

// Summary reports the outcome of processing one image.
type Summary struct {
	FacesDetected int         `json:"faces_detected"`
	GroupsMatched []uuid.UUID `json:"groups_matched"`
	GroupsCreated []uuid.UUID `json:"groups_created"`
}

// Pipeline drives an image from pending to a terminal status: load bytes,
// extract faces, match each embedding against existing groups, persist faces
// and assignments, finalize.
//
// Known limitation: two images processed concurrently, each holding the first
// face of the same person, can both miss the match and create two groups.
// MergeGroups reconciles such duplicates.
type Pipeline struct {
	store     Store
	objects   ObjectStore
	extractor Extractor
	threshold float64

	mu       sync.Mutex
	inFlight map[uuid.UUID]struct{}
}

func NewPipeline(store Store, objects ObjectStore, extractor Extractor, threshold float64) *Pipeline {
	return &Pipeline{
		store:     store,
		objects:   objects,
		extractor: extractor,
		threshold: threshold,
		inFlight:  make(map[uuid.UUID]struct{}),
	}
}

// Process runs the full detection and grouping pass for a pending image.
// The image's status flips to processing before any detection work and
// reaches completed or failed exactly once. Per-face writes commit in a
// single transaction at the finalize point; an aborting error rolls them
// back so a failed image keeps zero faces from the attempt.
func (p *Pipeline) Process(ctx context.Context, imageID uuid.UUID) (*Summary, error) {
	if !p.acquire(imageID) {
		return nil, fmt.Errorf("image %s: %w", imageID, ErrAlreadyProcessing)
	}
	defer p.release(imageID)

	img, err := p.store.GetImage(ctx, imageID)
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", imageID, err)
	}
	if img == nil {
		return nil, fmt.Errorf("image %s: %w", imageID, ErrNotFound)
	}

	switch img.Status {
	case models.ImageStatusProcessing:
		return nil, fmt.Errorf("image %s: %w", imageID, ErrAlreadyProcessing)
	case models.ImageStatusCompleted, models.ImageStatusFailed:
		return nil, fmt.Errorf("image %s: %w", imageID, ErrAlreadyProcessed)
	}

	start := time.Now()
	summary, err := p.run(ctx, img)
	if err != nil {
		p.markFailed(ctx, imageID)
		observability.ImagesProcessed.WithLabelValues("failed").Inc()
		return nil, err
	}

	observability.ImagesProcessed.WithLabelValues("completed").Inc()
	observability.ProcessingDuration.Observe(time.Since(start).Seconds())

	slog.Info("image processed",
		"image_id", imageID,
		"faces", summary.FacesDetected,
		"matched", len(summary.GroupsMatched),
		"created", len(summary.GroupsCreated),
	)
	return summary, nil
}

func (p *Pipeline) run(ctx context.Context, img *models.Image) (*Summary, error) {
	// Visible to concurrent readers before detection starts.
	if err := p.store.SetImageStatus(ctx, img.ID, models.ImageStatusProcessing, nil); err != nil {
		return nil, fmt.Errorf("image %s: %w: %v", img.ID, ErrPersistenceFailure, err)
	}

	start := time.Now()
	data, err := p.objects.GetObject(ctx, img.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load image %s (%s): %w: %v", img.ID, img.StorageKey, ErrStorageUnavailable, err)
	}
	observability.StageDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())

	start = time.Now()
	res, err := p.extractor.Detect(ctx, data)
	if err != nil {
		// The extractor classifies its own failures as decode or extraction.
		return nil, fmt.Errorf("extract image %s: %w", img.ID, err)
	}
	observability.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	observability.FacesDetected.Add(float64(len(res.Detections)))

	summary := &Summary{
		FacesDetected: len(res.Detections),
		GroupsMatched: []uuid.UUID{},
		GroupsCreated: []uuid.UUID{},
	}

	start = time.Now()
	err = p.store.WithTx(ctx, func(tx Store) error {
		matcher := NewMatcher(tx, p.threshold)
		ledger := NewLedger(tx)

		for i, det := range res.Detections {
			embedding, err := Normalize(det.Embedding)
			if err != nil {
				// One bad detection never aborts the image.
				slog.Warn("skipping detection",
					"image_id", img.ID, "detection", i, "error", err)
				observability.FacesSkipped.Inc()
				continue
			}

			match, err := matcher.FindMatch(ctx, embedding)
			if err != nil {
				return fmt.Errorf("match detection %d: %w", i, err)
			}

			var groupID uuid.UUID
			similarity := 1.0
			newGroup := match == nil

			if newGroup {
				group, err := ledger.CreateGroup(ctx, nil)
				if err != nil {
					return fmt.Errorf("detection %d: %w", i, err)
				}
				groupID = group.ID
				summary.GroupsCreated = append(summary.GroupsCreated, groupID)
			} else {
				groupID = match.GroupID
				similarity = match.Similarity
				summary.GroupsMatched = append(summary.GroupsMatched, groupID)
			}

			face := &models.Face{
				ID:            uuid.New(),
				ImageID:       img.ID,
				Embedding:     embedding,
				BoundingBox:   det.BBox,
				Confidence:    det.Confidence,
				PersonGroupID: &groupID,
			}
			if err := tx.CreateFace(ctx, face); err != nil {
				return fmt.Errorf("create face for detection %d: %w", i, err)
			}

			// Representative assignment needs a face id that only exists
			// post-insert.
			if newGroup {
				if err := tx.SetGroupRepresentative(ctx, groupID, face.ID); err != nil {
					return fmt.Errorf("set representative for group %s: %w", groupID, err)
				}
			}

			if err := ledger.AssignFace(ctx, face.ID, groupID, similarity); err != nil {
				return fmt.Errorf("assign face %s: %w", face.ID, err)
			}
		}

		if img.Width == 0 || img.Height == 0 {
			if err := tx.SetImageDimensions(ctx, img.ID, res.Width, res.Height); err != nil {
				return fmt.Errorf("set dimensions: %w", err)
			}
		}

		now := time.Now().UTC()
		return tx.SetImageStatus(ctx, img.ID, models.ImageStatusCompleted, &now)
	})
	if err != nil {
		return nil, fmt.Errorf("image %s: %w: %v", img.ID, ErrPersistenceFailure, err)
	}
	observability.StageDuration.WithLabelValues("persist").Observe(time.Since(start).Seconds())

	observability.GroupsMatched.Add(float64(len(summary.GroupsMatched)))
	observability.GroupsCreated.Add(float64(len(summary.GroupsCreated)))

	return summary, nil
}

// Retry purges all faces and assignments from the image's prior runs, resets
// it to pending and processes it again from scratch. Full re-detection, not
// incremental.
func (p *Pipeline) Retry(ctx context.Context, imageID uuid.UUID) (*Summary, error) {
	if !p.acquire(imageID) {
		return nil, fmt.Errorf("image %s: %w", imageID, ErrAlreadyProcessing)
	}

	img, err := p.store.GetImage(ctx, imageID)
	if err != nil {
		p.release(imageID)
		return nil, fmt.Errorf("get image %s: %w", imageID, err)
	}
	if img == nil {
		p.release(imageID)
		return nil, fmt.Errorf("image %s: %w", imageID, ErrNotFound)
	}
	if img.Status == models.ImageStatusProcessing {
		p.release(imageID)
		return nil, fmt.Errorf("image %s: %w", imageID, ErrAlreadyProcessing)
	}

	err = p.store.WithTx(ctx, func(tx Store) error {
		if err := tx.PurgeImageFaces(ctx, imageID); err != nil {
			return fmt.Errorf("purge faces: %w", err)
		}
		return tx.SetImageStatus(ctx, imageID, models.ImageStatusPending, nil)
	})
	p.release(imageID)
	if err != nil {
		return nil, fmt.Errorf("reset image %s: %w: %v", imageID, ErrPersistenceFailure, err)
	}

	slog.Info("image reset for reprocessing", "image_id", imageID)
	return p.Process(ctx, imageID)
}

func (p *Pipeline) markFailed(ctx context.Context, imageID uuid.UUID) {
	now := time.Now().UTC()
	if err := p.store.SetImageStatus(ctx, imageID, models.ImageStatusFailed, &now); err != nil {
		slog.Error("mark image failed", "image_id", imageID, "error", err)
	}
}

func (p *Pipeline) acquire(imageID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[imageID]; busy {
		return false
	}
	p.inFlight[imageID] = struct{}{}
	return true
}

func (p *Pipeline) release(imageID uuid.UUID) {
	p.mu.Lock()
	delete(p.inFlight, imageID)
	p.mu.Unlock()
}

// IsTerminalError reports whether err is one of the image-level failures that
// are never retried automatically.
func IsTerminalError(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrDecodeFailure) ||
		errors.Is(err, ErrExtractionFailure) ||
		errors.Is(err, ErrPersistenceFailure)
}
