package cluster

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/your-org/facegroups/internal/models"
)

// Ledger owns person-group lifecycle: creation, face assignment bookkeeping,
// representative selection, merge and delete.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// CreateGroup allocates a new group with no representative. The caller sets
// the representative once the first face row exists, because the face id is
// only known after insert.
func (l *Ledger) CreateGroup(ctx context.Context, name *string) (*models.PersonGroup, error) {
	group, err := l.store.CreateGroup(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return group, nil
}

// AssignFace binds a face to a group and records the similarity observed at
// assignment time. Idempotent: re-assigning the same pair updates the stored
// similarity instead of duplicating the assignment row.
func (l *Ledger) AssignFace(ctx context.Context, faceID, groupID uuid.UUID, similarity float64) error {
	if err := l.store.UpsertAssignment(ctx, faceID, groupID, similarity); err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	if err := l.store.SetFaceGroup(ctx, faceID, &groupID); err != nil {
		return fmt.Errorf("set face group: %w", err)
	}
	return nil
}

// MergeGroups repoints every face and assignment under source to target, then
// deletes the emptied source group. Self-merge is rejected; a missing source
// or target surfaces as ErrNotFound. The multi-row update is atomic.
func (l *Ledger) MergeGroups(ctx context.Context, sourceID, targetID uuid.UUID) error {
	if sourceID == targetID {
		return ErrSelfMerge
	}

	source, err := l.store.GetGroup(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("get source group: %w", err)
	}
	if source == nil {
		return fmt.Errorf("source group %s: %w", sourceID, ErrNotFound)
	}

	target, err := l.store.GetGroup(ctx, targetID)
	if err != nil {
		return fmt.Errorf("get target group: %w", err)
	}
	if target == nil {
		return fmt.Errorf("target group %s: %w", targetID, ErrNotFound)
	}

	if err := l.store.MergeGroups(ctx, sourceID, targetID); err != nil {
		return fmt.Errorf("merge groups: %w", err)
	}
	return nil
}

// DeleteGroup detaches every member face, drops the group's assignments and
// deletes the group. Faces survive as ungrouped records.
func (l *Ledger) DeleteGroup(ctx context.Context, groupID uuid.UUID) error {
	group, err := l.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}

	if err := l.store.DeleteGroup(ctx, groupID); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// UpdateRepresentative changes which face's embedding stands in for the group
// during matching. The face must belong to the group.
func (l *Ledger) UpdateRepresentative(ctx context.Context, groupID, faceID uuid.UUID) error {
	group, err := l.store.GetGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if group == nil {
		return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}

	face, err := l.store.GetFace(ctx, faceID)
	if err != nil {
		return fmt.Errorf("get face: %w", err)
	}
	if face == nil {
		return fmt.Errorf("face %s: %w", faceID, ErrNotFound)
	}
	if face.PersonGroupID == nil || *face.PersonGroupID != groupID {
		return fmt.Errorf("face %s does not belong to group %s", faceID, groupID)
	}

	if err := l.store.SetGroupRepresentative(ctx, groupID, faceID); err != nil {
		return fmt.Errorf("set representative: %w", err)
	}
	return nil
}
