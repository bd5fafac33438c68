package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/facegroups/internal/cluster"
	"github.com/your-org/facegroups/internal/models"
)

const imageColumns = `id, filename, storage_key, storage_url, mime_type, file_size, width, height, status, uploaded_at, processed_at`

func scanImage(row pgx.Row, img *models.Image) error {
	return row.Scan(&img.ID, &img.Filename, &img.StorageKey, &img.StorageURL,
		&img.MimeType, &img.FileSize, &img.Width, &img.Height,
		&img.Status, &img.UploadedAt, &img.ProcessedAt)
}

func (s *PostgresStore) CreateImage(ctx context.Context, img *models.Image) error {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}
	if img.Status == "" {
		img.Status = models.ImageStatusPending
	}
	err := s.q.QueryRow(ctx,
		`INSERT INTO images (id, filename, storage_key, storage_url, mime_type, file_size, width, height, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING uploaded_at`,
		img.ID, img.Filename, img.StorageKey, img.StorageURL, img.MimeType,
		img.FileSize, img.Width, img.Height, img.Status,
	).Scan(&img.UploadedAt)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetImage(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	img := &models.Image{}
	err := scanImage(s.q.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id), img)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get image: %w", err)
	}
	return img, nil
}

func (s *PostgresStore) ListImages(ctx context.Context, offset, limit int) ([]models.Image, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.Query(ctx,
		`SELECT `+imageColumns+` FROM images ORDER BY uploaded_at DESC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
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

func (s *PostgresStore) SetImageStatus(ctx context.Context, id uuid.UUID, status models.ImageStatus, processedAt *time.Time) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE images SET status = $1, processed_at = $2 WHERE id = $3`,
		status, processedAt, id)
	if err != nil {
		return fmt.Errorf("set image status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("image %s not found", id)
	}
	return nil
}

func (s *PostgresStore) SetImageDimensions(ctx context.Context, id uuid.UUID, width, height int) error {
	_, err := s.q.Exec(ctx,
		`UPDATE images SET width = $1, height = $2 WHERE id = $3`,
		width, height, id)
	if err != nil {
		return fmt.Errorf("set image dimensions: %w", err)
	}
	return nil
}

// CountImagesByStatus returns per-status image counts for the processing
// status endpoint and diagnostics.
func (s *PostgresStore) CountImagesByStatus(ctx context.Context) (map[models.ImageStatus]int, error) {
	rows, err := s.q.Query(ctx,
		`SELECT status, COUNT(*) FROM images GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count images: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ImageStatus]int)
	for rows.Next() {
		var status models.ImageStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// DeleteImage removes an image and everything derived from it. Groups whose
// representative face lived in this image are repaired or removed first.
func (s *PostgresStore) DeleteImage(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(tx cluster.Store) error {
		txs := tx.(*PostgresStore)

		if err := txs.PurgeImageFaces(ctx, id); err != nil {
			return err
		}

		tag, err := txs.q.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete image: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("image %s not found", id)
		}
		return nil
	})
}

// CountImages returns the total number of images.
func (s *PostgresStore) CountImages(ctx context.Context) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM images`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count images: %w", err)
	}
	return n, nil
}
