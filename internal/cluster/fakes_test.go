package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
)

type assignKey struct {
	faceID  uuid.UUID
	groupID uuid.UUID
}

// memStore is an in-memory Store for tests. Methods can be made to fail
// by name through the failures map; failAfter lets that many calls succeed
// first, so a failure can land mid-transaction.
type memStore struct {
	mu          sync.Mutex
	images      map[uuid.UUID]*models.Image
	faces       map[uuid.UUID]*models.Face
	groups      map[uuid.UUID]*models.PersonGroup
	assignments map[assignKey]*models.FaceGroupAssignment
	faceOrder   []uuid.UUID
	groupOrder  []uuid.UUID
	failures    map[string]error
	failAfter   map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		images:      make(map[uuid.UUID]*models.Image),
		faces:       make(map[uuid.UUID]*models.Face),
		groups:      make(map[uuid.UUID]*models.PersonGroup),
		assignments: make(map[assignKey]*models.FaceGroupAssignment),
		failures:    make(map[string]error),
		failAfter:   make(map[string]int),
	}
}

func (s *memStore) fail(method string) error {
	err, ok := s.failures[method]
	if !ok {
		return nil
	}
	if n := s.failAfter[method]; n > 0 {
		s.failAfter[method] = n - 1
		return nil
	}
	return err
}

func (s *memStore) addImage(status models.ImageStatus) *models.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := &models.Image{
		ID:         uuid.New(),
		Filename:   "test.jpg",
		StorageKey: "images/" + uuid.NewString() + ".jpg",
		MimeType:   "image/jpeg",
		Status:     status,
		UploadedAt: time.Now().UTC(),
	}
	s.images[img.ID] = img
	return img
}

func (s *memStore) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	if err := s.fail("GetImage"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return nil, nil
	}
	cp := *img
	return &cp, nil
}

func (s *memStore) SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus, processedAt *time.Time) error {
	if err := s.fail("SetImageStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return fmt.Errorf("image %s not found", id)
	}
	img.Status = status
	img.ProcessedAt = processedAt
	return nil
}

func (s *memStore) SetImageDimensions(ctx context.Context, id uuid.UUID, width, height int) error {
	if err := s.fail("SetImageDimensions"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[id]
	if !ok {
		return fmt.Errorf("image %s not found", id)
	}
	img.Width = width
	img.Height = height
	return nil
}

func (s *memStore) CreateFace(ctx context.Context, face *models.Face) error {
	if err := s.fail("CreateFace"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if face.ID == uuid.Nil {
		face.ID = uuid.New()
	}
	face.DetectedAt = time.Now().UTC()
	cp := *face
	s.faces[face.ID] = &cp
	s.faceOrder = append(s.faceOrder, face.ID)
	return nil
}

func (s *memStore) GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error) {
	if err := s.fail("GetFace"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faces[id]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

func (s *memStore) SetFaceGroup(ctx context.Context, faceID uuid.UUID, groupID *uuid.UUID) error {
	if err := s.fail("SetFaceGroup"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faces[faceID]
	if !ok {
		return fmt.Errorf("face %s not found", faceID)
	}
	f.PersonGroupID = groupID
	return nil
}

func (s *memStore) PurgeImageFaces(ctx context.Context, imageID uuid.UUID) error {
	if err := s.fail("PurgeImageFaces"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := make(map[uuid.UUID]bool)
	for id, f := range s.faces {
		if f.ImageID == imageID {
			purged[id] = true
		}
	}

	// Repair or drop groups represented by a purged face.
	for _, g := range s.groups {
		if g.RepresentativeFaceID == nil || !purged[*g.RepresentativeFaceID] {
			continue
		}
		var replacement *uuid.UUID
		for _, fid := range s.faceOrder {
			f, ok := s.faces[fid]
			if !ok || purged[fid] {
				continue
			}
			if f.PersonGroupID != nil && *f.PersonGroupID == g.ID {
				id := fid
				replacement = &id
				break
			}
		}
		if replacement != nil {
			g.RepresentativeFaceID = replacement
		} else {
			s.deleteGroupLocked(g.ID)
		}
	}

	for key := range s.assignments {
		if purged[key.faceID] {
			delete(s.assignments, key)
		}
	}
	for id := range purged {
		delete(s.faces, id)
	}
	return nil
}

func (s *memStore) CreateGroup(ctx context.Context, name *string) (*models.PersonGroup, error) {
	if err := s.fail("CreateGroup"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	g := &models.PersonGroup{
		ID:        uuid.New(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.groups[g.ID] = g
	s.groupOrder = append(s.groupOrder, g.ID)
	return g, nil
}

func (s *memStore) GetGroup(ctx context.Context, id uuid.UUID) (*models.PersonGroup, error) {
	if err := s.fail("GetGroup"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *memStore) SetGroupRepresentative(ctx context.Context, groupID, faceID uuid.UUID) error {
	if err := s.fail("SetGroupRepresentative"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s not found", groupID)
	}
	g.RepresentativeFaceID = &faceID
	return nil
}

func (s *memStore) UpsertAssignment(ctx context.Context, faceID, groupID uuid.UUID, similarity float64) error {
	if err := s.fail("UpsertAssignment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignKey{faceID: faceID, groupID: groupID}
	if a, ok := s.assignments[key]; ok {
		a.SimilarityScore = similarity
		return nil
	}
	s.assignments[key] = &models.FaceGroupAssignment{
		FaceID:          faceID,
		PersonGroupID:   groupID,
		SimilarityScore: similarity,
		AssignedAt:      time.Now().UTC(),
	}
	return nil
}

// NearestGroup scans every group representative and returns the closest by
// cosine similarity. Ties resolve by group creation order.
func (s *memStore) NearestGroup(ctx context.Context, embedding []float32) (*models.GroupMatch, error) {
	if err := s.fail("NearestGroup"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.GroupMatch
	for _, gid := range s.groupOrder {
		g, ok := s.groups[gid]
		if !ok || g.RepresentativeFaceID == nil {
			continue
		}
		rep, ok := s.faces[*g.RepresentativeFaceID]
		if !ok {
			continue
		}
		sim := CosineSimilarity(embedding, rep.Embedding)
		if best == nil || sim > best.Similarity {
			best = &models.GroupMatch{GroupID: g.ID, Similarity: sim}
		}
	}
	return best, nil
}

func (s *memStore) MergeGroups(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if err := s.fail("MergeGroups"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[sourceID]; !ok {
		return fmt.Errorf("source group %s not found", sourceID)
	}
	for _, f := range s.faces {
		if f.PersonGroupID != nil && *f.PersonGroupID == sourceID {
			id := targetID
			f.PersonGroupID = &id
		}
	}
	for key, a := range s.assignments {
		if key.groupID != sourceID {
			continue
		}
		delete(s.assignments, key)
		newKey := assignKey{faceID: key.faceID, groupID: targetID}
		if _, exists := s.assignments[newKey]; !exists {
			a.PersonGroupID = targetID
			s.assignments[newKey] = a
		}
	}
	delete(s.groups, sourceID)
	return nil
}

func (s *memStore) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	if err := s.fail("DeleteGroup"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("group %s not found", id)
	}
	s.deleteGroupLocked(id)
	return nil
}

func (s *memStore) deleteGroupLocked(id uuid.UUID) {
	for _, f := range s.faces {
		if f.PersonGroupID != nil && *f.PersonGroupID == id {
			f.PersonGroupID = nil
		}
	}
	for key := range s.assignments {
		if key.groupID == id {
			delete(s.assignments, key)
		}
	}
	delete(s.groups, id)
}

// WithTx snapshots the store before running fn and restores the snapshot
// when fn fails, so an aborted attempt rolls back like a real transaction.
func (s *memStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	images      map[uuid.UUID]*models.Image
	faces       map[uuid.UUID]*models.Face
	groups      map[uuid.UUID]*models.PersonGroup
	assignments map[assignKey]*models.FaceGroupAssignment
	faceOrder   []uuid.UUID
	groupOrder  []uuid.UUID
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		images:      make(map[uuid.UUID]*models.Image, len(s.images)),
		faces:       make(map[uuid.UUID]*models.Face, len(s.faces)),
		groups:      make(map[uuid.UUID]*models.PersonGroup, len(s.groups)),
		assignments: make(map[assignKey]*models.FaceGroupAssignment, len(s.assignments)),
		faceOrder:   append([]uuid.UUID(nil), s.faceOrder...),
		groupOrder:  append([]uuid.UUID(nil), s.groupOrder...),
	}
	for id, img := range s.images {
		cp := *img
		snap.images[id] = &cp
	}
	for id, f := range s.faces {
		cp := *f
		snap.faces[id] = &cp
	}
	for id, g := range s.groups {
		cp := *g
		snap.groups[id] = &cp
	}
	for key, a := range s.assignments {
		cp := *a
		snap.assignments[key] = &cp
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = snap.images
	s.faces = snap.faces
	s.groups = snap.groups
	s.assignments = snap.assignments
	s.faceOrder = snap.faceOrder
	s.groupOrder = snap.groupOrder
}

func (s *memStore) facesForImage(imageID uuid.UUID) []*models.Face {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Face
	for _, fid := range s.faceOrder {
		f, ok := s.faces[fid]
		if ok && f.ImageID == imageID {
			out = append(out, f)
		}
	}
	return out
}

type memObjects struct {
	objects  map[string][]byte
	failures map[string]error
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects:  make(map[string][]byte),
		failures: make(map[string]error),
	}
}

func (o *memObjects) GetObject(ctx context.Context, key string) ([]byte, error) {
	if err, ok := o.failures[key]; ok {
		return nil, err
	}
	data, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

// stubExtractor returns canned detections, or an error.
type stubExtractor struct {
	result *ExtractionResult
	err    error
}

func (e *stubExtractor) Detect(ctx context.Context, imageData []byte) (*ExtractionResult, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// unitVec builds an embedding along one axis, trivially unit-normalized.
func unitVec(dim, axis int) []float32 {
	v := make([]float32, dim)
	v[axis] = 1
	return v
}

// addGroupFace inserts a face already bound to a group, without touching
// the representative.
func addGroupFace(t *testing.T, store *memStore, groupID uuid.UUID, embedding []float32) uuid.UUID {
	t.Helper()
	face := &models.Face{
		ID:            uuid.New(),
		ImageID:       uuid.New(),
		Embedding:     embedding,
		PersonGroupID: &groupID,
	}
	if err := store.CreateFace(context.Background(), face); err != nil {
		t.Fatalf("create face: %v", err)
	}
	return face.ID
}
