package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/models"
)

const groupColumns = `id, name, representative_face_id, created_at, updated_at`

func scanGroup(row pgx.Row, g *models.PersonGroup) error {
	return row.Scan(&g.ID, &g.Name, &g.RepresentativeFaceID, &g.CreatedAt, &g.UpdatedAt)
}

func (s *PostgresStore) CreateGroup(ctx context.Context, name *string) (*models.PersonGroup, error) {
	g := &models.PersonGroup{
		ID:   uuid.New(),
		Name: name,
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO person_groups (id, name) VALUES ($1, $2) RETURNING created_at, updated_at`,
		g.ID, g.Name,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, id uuid.UUID) (*models.PersonGroup, error) {
	g := &models.PersonGroup{}
	err := scanGroup(s.q.QueryRow(ctx,
		`SELECT `+groupColumns+` FROM person_groups WHERE id = $1`, id), g)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) ListGroups(ctx context.Context, offset, limit int) ([]models.PersonGroup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+groupColumns+` FROM person_groups ORDER BY created_at ASC, id ASC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []models.PersonGroup
	for rows.Next() {
		var g models.PersonGroup
		if err := scanGroup(rows, &g); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) CountGroups(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM person_groups`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count groups: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountGroupFaces(ctx context.Context, groupID uuid.UUID) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM faces WHERE person_group_id = $1`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count group faces: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) UpdateGroupName(ctx context.Context, id uuid.UUID, name *string) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE person_groups SET name = $1, updated_at = NOW() WHERE id = $2`, name, id)
	if err != nil {
		return fmt.Errorf("update group name: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s not found", id)
	}
	return nil
}

func (s *PostgresStore) SetGroupRepresentative(ctx context.Context, groupID, faceID uuid.UUID) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE person_groups SET representative_face_id = $1, updated_at = NOW() WHERE id = $2`,
		faceID, groupID)
	if err != nil {
		return fmt.Errorf("set group representative: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("group %s not found", groupID)
	}
	return nil
}

func (s *PostgresStore) UpsertAssignment(ctx context.Context, faceID, groupID uuid.UUID, similarity float64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO face_group_assignments (face_id, person_group_id, similarity_score)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (face_id, person_group_id)
		 DO UPDATE SET similarity_score = EXCLUDED.similarity_score`,
		faceID, groupID, similarity)
	if err != nil {
		return fmt.Errorf("upsert assignment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListGroupAssignments(ctx context.Context, groupID uuid.UUID) ([]models.FaceGroupAssignment, error) {
	rows, err := s.q.Query(ctx,
		`SELECT face_id, person_group_id, similarity_score, assigned_at
		 FROM face_group_assignments WHERE person_group_id = $1 ORDER BY assigned_at ASC`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []models.FaceGroupAssignment
	for rows.Next() {
		var a models.FaceGroupAssignment
		if err := rows.Scan(&a.FaceID, &a.PersonGroupID, &a.SimilarityScore, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// NearestGroup finds the group whose representative embedding is closest to
// the query. The inner scan orders by the cosine distance expression alone,
// which is the only shape the ivfflat index can serve; the deterministic
// tie-break (creation time, then id) runs over the small candidate set it
// returns, so result order still matches brute-force ranking.
func (s *PostgresStore) NearestGroup(ctx context.Context, embedding []float32) (*models.GroupMatch, error) {
	vec := pgvector.NewVector(embedding)
	m := &models.GroupMatch{}
	err := s.q.QueryRow(ctx,
		`SELECT c.id, 1 - c.distance AS similarity
		 FROM (
		     SELECT pg.id, pg.created_at, f.embedding <=> $1 AS distance
		     FROM person_groups pg
		     JOIN faces f ON f.id = pg.representative_face_id
		     ORDER BY f.embedding <=> $1
		     LIMIT 16
		 ) c
		 ORDER BY c.distance ASC, c.created_at ASC, c.id ASC
		 LIMIT 1`,
		vec,
	).Scan(&m.GroupID, &m.Similarity)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("nearest group: %w", err)
	}
	return m, nil
}

// MergeGroups repoints source's faces and assignments to target and deletes
// source, in one transaction. Assignments that would collide with an existing
// (face, target) pair are dropped rather than duplicated.
func (s *PostgresStore) MergeGroups(ctx context.Context, sourceID, targetID uuid.UUID) error {
	return s.WithTx(ctx, func(tx cluster.Store) error {
		txs := tx.(*PostgresStore)

		if _, err := txs.q.Exec(ctx,
			`UPDATE faces SET person_group_id = $1 WHERE person_group_id = $2`,
			targetID, sourceID); err != nil {
			return fmt.Errorf("repoint faces: %w", err)
		}

		if _, err := txs.q.Exec(ctx,
			`UPDATE face_group_assignments SET person_group_id = $1
			 WHERE person_group_id = $2
			   AND face_id NOT IN (
			       SELECT face_id FROM face_group_assignments WHERE person_group_id = $1)`,
			targetID, sourceID); err != nil {
			return fmt.Errorf("repoint assignments: %w", err)
		}
		if _, err := txs.q.Exec(ctx,
			`DELETE FROM face_group_assignments WHERE person_group_id = $1`,
			sourceID); err != nil {
			return fmt.Errorf("drop colliding assignments: %w", err)
		}

		tag, err := txs.q.Exec(ctx,
			`DELETE FROM person_groups WHERE id = $1`, sourceID)
		if err != nil {
			return fmt.Errorf("delete source group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("source group %s not found", sourceID)
		}
		return nil
	})
}

// DeleteGroup detaches the group's faces, removes its assignments and deletes
// the group, in one transaction. Face rows are preserved as ungrouped.
func (s *PostgresStore) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(tx cluster.Store) error {
		txs := tx.(*PostgresStore)

		if _, err := txs.q.Exec(ctx,
			`UPDATE faces SET person_group_id = NULL WHERE person_group_id = $1`, id); err != nil {
			return fmt.Errorf("detach faces: %w", err)
		}
		if _, err := txs.q.Exec(ctx,
			`DELETE FROM face_group_assignments WHERE person_group_id = $1`, id); err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}

		tag, err := txs.q.Exec(ctx, `DELETE FROM person_groups WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("group %s not found", id)
		}
		return nil
	})
}

// ListGroupImages returns the distinct images holding faces of a group.
func (s *PostgresStore) ListGroupImages(ctx context.Context, groupID uuid.UUID) ([]models.Image, error) {
	rows, err := s.q.Query(ctx,
		`SELECT DISTINCT i.id, i.filename, i.storage_key, i.storage_url, i.mime_type,
		        i.file_size, i.width, i.height, i.status, i.uploaded_at, i.processed_at
		 FROM images i
		 JOIN faces f ON f.image_id = i.id
		 WHERE f.person_group_id = $1
		 ORDER BY i.uploaded_at DESC`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("list group images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := scanImage(rows, &img); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
