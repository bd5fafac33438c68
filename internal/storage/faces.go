package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegroups/internal/models"
)

const faceColumns = `id, image_id, bounding_box, confidence, person_group_id, detected_at`

func scanFace(row pgx.Row, f *models.Face) error {
	return row.Scan(&f.ID, &f.ImageID, &f.BoundingBox, &f.Confidence,
		&f.PersonGroupID, &f.DetectedAt)
}

func (s *PostgresStore) CreateFace(ctx context.Context, face *models.Face) error {
	if face.ID == uuid.Nil {
		face.ID = uuid.New()
	}
	vec := pgvector.NewVector(face.Embedding)
	err := s.q.QueryRow(ctx,
		`INSERT INTO faces (id, image_id, embedding, bounding_box, confidence, person_group_id)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING detected_at`,
		face.ID, face.ImageID, vec, face.BoundingBox, face.Confidence, face.PersonGroupID,
	).Scan(&face.DetectedAt)
	if err != nil {
		return fmt.Errorf("create face: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFace(ctx context.Context, id uuid.UUID) (*models.Face, error) {
	f := &models.Face{}
	err := scanFace(s.q.QueryRow(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE id = $1`, id), f)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get face: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListFaces(ctx context.Context, offset, limit int) ([]models.Face, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+faceColumns+` FROM faces ORDER BY detected_at DESC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list faces: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

func (s *PostgresStore) ListImageFaces(ctx context.Context, imageID uuid.UUID) ([]models.Face, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE image_id = $1 ORDER BY detected_at ASC, id ASC`,
		imageID)
	if err != nil {
		return nil, fmt.Errorf("list image faces: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

func (s *PostgresStore) ListGroupFaces(ctx context.Context, groupID uuid.UUID) ([]models.Face, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+faceColumns+` FROM faces WHERE person_group_id = $1 ORDER BY detected_at ASC, id ASC`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("list group faces: %w", err)
	}
	defer rows.Close()
	return collectFaces(rows)
}

func collectFaces(rows pgx.Rows) ([]models.Face, error) {
	var faces []models.Face
	for rows.Next() {
		var f models.Face
		if err := scanFace(rows, &f); err != nil {
			return nil, fmt.Errorf("scan face: %w", err)
		}
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

func (s *PostgresStore) SetFaceGroup(ctx context.Context, faceID uuid.UUID, groupID *uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE faces SET person_group_id = $1 WHERE id = $2`, groupID, faceID)
	if err != nil {
		return fmt.Errorf("set face group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("face %s not found", faceID)
	}
	return nil
}

// CountFaces returns total and ungrouped face counts for diagnostics.
func (s *PostgresStore) CountFaces(ctx context.Context) (total, ungrouped int, err error) {
	err = s.q.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE person_group_id IS NULL) FROM faces`,
	).Scan(&total, &ungrouped)
	if err != nil {
		return 0, 0, fmt.Errorf("count faces: %w", err)
	}
	return total, ungrouped, nil
}

// PurgeImageFaces removes every face and assignment owned by an image, ahead
// of full re-detection. Groups represented by a purged face get the oldest
// surviving member face as their new representative; groups with no surviving
// faces are removed entirely.
func (s *PostgresStore) PurgeImageFaces(ctx context.Context, imageID uuid.UUID) error {
	rows, err := s.q.Query(ctx,
		`SELECT pg.id FROM person_groups pg
		 JOIN faces f ON f.id = pg.representative_face_id
		 WHERE f.image_id = $1`, imageID)
	if err != nil {
		return fmt.Errorf("find affected groups: %w", err)
	}
	var affected []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan affected group: %w", err)
		}
		affected = append(affected, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate affected groups: %w", err)
	}

	for _, groupID := range affected {
		var replacement uuid.UUID
		err := s.q.QueryRow(ctx,
			`SELECT id FROM faces
			 WHERE person_group_id = $1 AND image_id <> $2
			 ORDER BY detected_at ASC, id ASC LIMIT 1`,
			groupID, imageID).Scan(&replacement)
		switch {
		case err == pgx.ErrNoRows:
			// Group only held faces from this image; it goes away with them.
			if err := s.DeleteGroup(ctx, groupID); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("find replacement representative: %w", err)
		default:
			if err := s.SetGroupRepresentative(ctx, groupID, replacement); err != nil {
				return err
			}
		}
	}

	if _, err := s.q.Exec(ctx,
		`DELETE FROM face_group_assignments
		 WHERE face_id IN (SELECT id FROM faces WHERE image_id = $1)`, imageID); err != nil {
		return fmt.Errorf("purge assignments: %w", err)
	}
	if _, err := s.q.Exec(ctx,
		`DELETE FROM faces WHERE image_id = $1`, imageID); err != nil {
		return fmt.Errorf("purge faces: %w", err)
	}
	return nil
}
