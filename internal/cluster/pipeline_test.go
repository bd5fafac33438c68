package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
)

func newTestPipeline(store *memStore, objects *memObjects, extractor Extractor) *Pipeline {
	return NewPipeline(store, objects, extractor, 0.6)
}

func detection(embedding []float32) Detection {
	return Detection{
		BBox:       models.BoundingBox{X: 10, Y: 10, Width: 50, Height: 50},
		Confidence: 0.95,
		Embedding:  embedding,
		Normalized: true,
	}
}

func TestProcessCreatesGroupPerUnknownPerson(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.objects[img.StorageKey] = []byte("jpeg")

	// Two faces of two different people: orthogonal embeddings.
	extractor := &stubExtractor{result: &ExtractionResult{
		Width:  800,
		Height: 600,
		Detections: []Detection{
			detection(unitVec(4, 0)),
			detection(unitVec(4, 1)),
		},
	}}

	p := newTestPipeline(store, objects, extractor)
	summary, err := p.Process(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if summary.FacesDetected != 2 {
		t.Errorf("faces detected = %d; want 2", summary.FacesDetected)
	}
	if len(summary.GroupsCreated) != 2 {
		t.Errorf("groups created = %d; want 2", len(summary.GroupsCreated))
	}
	if len(summary.GroupsMatched) != 0 {
		t.Errorf("groups matched = %d; want 0", len(summary.GroupsMatched))
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusCompleted {
		t.Errorf("image status = %s; want completed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
	if got.Width != 800 || got.Height != 600 {
		t.Errorf("dimensions = %dx%d; want 800x600", got.Width, got.Height)
	}

	faces := store.facesForImage(img.ID)
	if len(faces) != 2 {
		t.Fatalf("persisted faces = %d; want 2", len(faces))
	}
	for _, f := range faces {
		if f.PersonGroupID == nil {
			t.Errorf("face %s has no group", f.ID)
			continue
		}
		g, _ := store.GetGroup(context.Background(), *f.PersonGroupID)
		if g == nil {
			t.Errorf("face %s points at missing group", f.ID)
			continue
		}
		if g.RepresentativeFaceID == nil || *g.RepresentativeFaceID != f.ID {
			t.Errorf("new group %s representative = %v; want founding face %s",
				g.ID, g.RepresentativeFaceID, f.ID)
		}
	}
}

func TestProcessMatchesExistingGroup(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	group := seedGroup(t, store, unitVec(4, 0))

	img := store.addImage(models.ImageStatusPending)
	objects.objects[img.StorageKey] = []byte("jpeg")

	// Same person, slightly different angle: similarity 0.85.
	query := []float32{0.85, float32(math.Sqrt(1 - 0.85*0.85)), 0, 0}
	extractor := &stubExtractor{result: &ExtractionResult{
		Width: 800, Height: 600,
		Detections: []Detection{detection(query)},
	}}

	p := newTestPipeline(store, objects, extractor)
	summary, err := p.Process(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(summary.GroupsCreated) != 0 {
		t.Errorf("groups created = %d; want 0", len(summary.GroupsCreated))
	}
	if len(summary.GroupsMatched) != 1 || summary.GroupsMatched[0] != group.ID {
		t.Errorf("groups matched = %v; want [%s]", summary.GroupsMatched, group.ID)
	}

	faces := store.facesForImage(img.ID)
	if len(faces) != 1 {
		t.Fatalf("persisted faces = %d; want 1", len(faces))
	}
	if faces[0].PersonGroupID == nil || *faces[0].PersonGroupID != group.ID {
		t.Errorf("face grouped to %v; want %s", faces[0].PersonGroupID, group.ID)
	}

	// Matching must not steal the representative.
	g, _ := store.GetGroup(context.Background(), group.ID)
	if *g.RepresentativeFaceID != *group.RepresentativeFaceID {
		t.Errorf("representative changed on match: %s", *g.RepresentativeFaceID)
	}

	store.mu.Lock()
	a := store.assignments[assignKey{faceID: faces[0].ID, groupID: group.ID}]
	store.mu.Unlock()
	if a == nil {
		t.Fatal("assignment missing")
	}
	if math.Abs(a.SimilarityScore-0.85) > 1e-6 {
		t.Errorf("assignment similarity = %f; want 0.85", a.SimilarityScore)
	}
}

func TestProcessExtractionFailure(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.objects[img.StorageKey] = []byte("not an image")

	extractor := &stubExtractor{err: fmt.Errorf("%w: bad header", ErrDecodeFailure)}

	p := newTestPipeline(store, objects, extractor)
	_, err := p.Process(context.Background(), img.ID)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("error = %v; want ErrDecodeFailure", err)
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusFailed {
		t.Errorf("image status = %s; want failed", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Error("processed_at not set on failure")
	}
	if n := len(store.facesForImage(img.ID)); n != 0 {
		t.Errorf("failed image has %d faces; want 0", n)
	}
	if !IsTerminalError(err) {
		t.Error("decode failure should be terminal")
	}
}

func TestProcessStorageUnavailable(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.failures[img.StorageKey] = fmt.Errorf("connection refused")

	p := newTestPipeline(store, objects, &stubExtractor{})
	_, err := p.Process(context.Background(), img.ID)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("error = %v; want ErrStorageUnavailable", err)
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusFailed {
		t.Errorf("image status = %s; want failed", got.Status)
	}
}

func TestProcessRollsBackPartialWrites(t *testing.T) {
	// A write failure on the second detection must leave no rows from the
	// attempt: no faces, no assignments, no group created for the first
	// detection.
	for _, method := range []string{"CreateFace", "UpsertAssignment"} {
		t.Run(method, func(t *testing.T) {
			store := newMemStore()
			objects := newMemObjects()
			img := store.addImage(models.ImageStatusPending)
			objects.objects[img.StorageKey] = []byte("jpeg")

			store.failures[method] = fmt.Errorf("write failed")
			store.failAfter[method] = 1

			extractor := &stubExtractor{result: &ExtractionResult{
				Width: 800, Height: 600,
				Detections: []Detection{
					detection(unitVec(4, 0)),
					detection(unitVec(4, 1)),
				},
			}}

			p := newTestPipeline(store, objects, extractor)
			_, err := p.Process(context.Background(), img.ID)
			if !errors.Is(err, ErrPersistenceFailure) {
				t.Fatalf("error = %v; want ErrPersistenceFailure", err)
			}

			got, _ := store.GetImage(context.Background(), img.ID)
			if got.Status != models.ImageStatusFailed {
				t.Errorf("image status = %s; want failed", got.Status)
			}
			if faces := store.facesForImage(img.ID); len(faces) != 0 {
				t.Errorf("persisted faces = %d; want 0", len(faces))
			}
			if n := len(store.assignments); n != 0 {
				t.Errorf("assignments = %d; want 0", n)
			}
			if n := len(store.groups); n != 0 {
				t.Errorf("groups = %d; want 0", n)
			}
		})
	}
}

func TestProcessSkipsInvalidEmbedding(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.objects[img.StorageKey] = []byte("jpeg")

	// One unusable detection between two good ones.
	extractor := &stubExtractor{result: &ExtractionResult{
		Width: 800, Height: 600,
		Detections: []Detection{
			detection(unitVec(4, 0)),
			detection([]float32{0, 0, 0, 0}),
			detection(unitVec(4, 1)),
		},
	}}

	p := newTestPipeline(store, objects, extractor)
	summary, err := p.Process(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if summary.FacesDetected != 3 {
		t.Errorf("faces detected = %d; want 3", summary.FacesDetected)
	}
	if n := len(store.facesForImage(img.ID)); n != 2 {
		t.Errorf("persisted faces = %d; want 2 (invalid embedding skipped)", n)
	}
	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusCompleted {
		t.Errorf("image status = %s; want completed", got.Status)
	}
}

func TestProcessZeroFacesCompletes(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.objects[img.StorageKey] = []byte("jpeg")

	extractor := &stubExtractor{result: &ExtractionResult{Width: 800, Height: 600}}

	p := newTestPipeline(store, objects, extractor)
	summary, err := p.Process(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if summary.FacesDetected != 0 {
		t.Errorf("faces detected = %d; want 0", summary.FacesDetected)
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusCompleted {
		t.Errorf("a photo with no faces should complete, got %s", got.Status)
	}
}

func TestProcessRejectsNonPending(t *testing.T) {
	tests := []struct {
		name    string
		status  models.ImageStatus
		wantErr error
	}{
		{"already processing", models.ImageStatusProcessing, ErrAlreadyProcessing},
		{"already completed", models.ImageStatusCompleted, ErrAlreadyProcessed},
		{"already failed", models.ImageStatusFailed, ErrAlreadyProcessed},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			objects := newMemObjects()
			img := store.addImage(tc.status)

			p := newTestPipeline(store, objects, &stubExtractor{})
			_, err := p.Process(context.Background(), img.ID)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v; want %v", err, tc.wantErr)
			}
		})
	}
}

func TestProcessUnknownImage(t *testing.T) {
	p := newTestPipeline(newMemStore(), newMemObjects(), &stubExtractor{})
	_, err := p.Process(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v; want ErrNotFound", err)
	}
}

func TestProcessKeepsExistingDimensions(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	store.mu.Lock()
	store.images[img.ID].Width = 4000
	store.images[img.ID].Height = 3000
	store.mu.Unlock()
	objects.objects[img.StorageKey] = []byte("jpeg")

	extractor := &stubExtractor{result: &ExtractionResult{Width: 1920, Height: 1440}}

	p := newTestPipeline(store, objects, extractor)
	if _, err := p.Process(context.Background(), img.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Width != 4000 || got.Height != 3000 {
		t.Errorf("dimensions overwritten to %dx%d; want 4000x3000 kept", got.Width, got.Height)
	}
}

func TestRetryPurgesAndReprocesses(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.objects[img.StorageKey] = []byte("jpeg")

	extractor := &stubExtractor{result: &ExtractionResult{
		Width: 800, Height: 600,
		Detections: []Detection{detection(unitVec(4, 0))},
	}}

	p := newTestPipeline(store, objects, extractor)
	first, err := p.Process(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	firstFaces := store.facesForImage(img.ID)
	if len(firstFaces) != 1 {
		t.Fatalf("first run faces = %d; want 1", len(firstFaces))
	}

	second, err := p.Retry(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	secondFaces := store.facesForImage(img.ID)
	if len(secondFaces) != 1 {
		t.Fatalf("post-retry faces = %d; want 1", len(secondFaces))
	}
	if secondFaces[0].ID == firstFaces[0].ID {
		t.Error("retry kept the old face row instead of re-detecting")
	}

	// The first run's single-face group lost its only member at purge, so
	// it must be gone and a fresh one created.
	if len(first.GroupsCreated) != 1 || len(second.GroupsCreated) != 1 {
		t.Fatalf("groups created = %d then %d; want 1 and 1",
			len(first.GroupsCreated), len(second.GroupsCreated))
	}
	if g, _ := store.GetGroup(context.Background(), first.GroupsCreated[0]); g != nil {
		t.Error("orphaned group from first run survived the purge")
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusCompleted {
		t.Errorf("image status = %s; want completed", got.Status)
	}
}

func TestRetryFailedImage(t *testing.T) {
	store := newMemStore()
	objects := newMemObjects()
	img := store.addImage(models.ImageStatusPending)
	objects.failures[img.StorageKey] = fmt.Errorf("connection refused")

	p := newTestPipeline(store, objects, &stubExtractor{result: &ExtractionResult{
		Width: 800, Height: 600,
		Detections: []Detection{detection(unitVec(4, 0))},
	}})

	if _, err := p.Process(context.Background(), img.ID); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected storage failure, got %v", err)
	}

	// Storage recovers; retry should succeed where process alone would
	// refuse the terminal image.
	delete(objects.failures, img.StorageKey)
	objects.objects[img.StorageKey] = []byte("jpeg")

	if _, err := p.Process(context.Background(), img.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("process after failure error = %v; want ErrAlreadyProcessed", err)
	}

	summary, err := p.Retry(context.Background(), img.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if summary.FacesDetected != 1 {
		t.Errorf("faces detected = %d; want 1", summary.FacesDetected)
	}

	got, _ := store.GetImage(context.Background(), img.ID)
	if got.Status != models.ImageStatusCompleted {
		t.Errorf("image status = %s; want completed", got.Status)
	}
}

func TestRetryWhileProcessing(t *testing.T) {
	store := newMemStore()
	img := store.addImage(models.ImageStatusProcessing)

	p := newTestPipeline(store, newMemObjects(), &stubExtractor{})
	if _, err := p.Retry(context.Background(), img.ID); !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("error = %v; want ErrAlreadyProcessing", err)
	}
}
