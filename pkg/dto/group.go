package dto

import (
	"github.com/google/uuid"
)

type GroupResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Name                 *string    `json:"name"`
	RepresentativeFaceID *uuid.UUID `json:"representative_face_id,omitempty"`
	FaceCount            int        `json:"face_count"`
	CreatedAt            string     `json:"created_at"`
	UpdatedAt            string     `json:"updated_at"`
}

type GroupListResponse struct {
	Groups []GroupResponse `json:"groups"`
	Total  int             `json:"total"`
}

type RenameGroupRequest struct {
	Name string `json:"name" binding:"required"`
}

type MergeGroupsRequest struct {
	SourceID uuid.UUID `json:"source_id" binding:"required"`
}

type SetRepresentativeRequest struct {
	FaceID uuid.UUID `json:"face_id" binding:"required"`
}

type AssignmentResponse struct {
	FaceID          uuid.UUID `json:"face_id"`
	PersonGroupID   uuid.UUID `json:"person_group_id"`
	SimilarityScore float64   `json:"similarity_score"`
	AssignedAt      string    `json:"assigned_at"`
}
