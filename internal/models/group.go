package models

import (
	"time"

	"github.com/google/uuid"
)

// PersonGroup represents one clustered identity. The representative face's
// embedding stands in for the whole group during matching.
type PersonGroup struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	Name                 *string    `json:"name,omitempty" db:"name"`
	RepresentativeFaceID *uuid.UUID `json:"representative_face_id,omitempty" db:"representative_face_id"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" db:"updated_at"`
}

// FaceGroupAssignment is the audit edge between a face and a group. It keeps
// the similarity recorded at assignment time even if the face is later moved.
type FaceGroupAssignment struct {
	FaceID          uuid.UUID `json:"face_id" db:"face_id"`
	PersonGroupID   uuid.UUID `json:"person_group_id" db:"person_group_id"`
	SimilarityScore float64   `json:"similarity_score" db:"similarity_score"`
	AssignedAt      time.Time `json:"assigned_at" db:"assigned_at"`
}

// GroupMatch is the result of a nearest-representative lookup.
type GroupMatch struct {
	GroupID    uuid.UUID `json:"group_id"`
	Similarity float64   `json:"similarity"`
}
