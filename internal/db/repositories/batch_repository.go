// batch_repository.go implements BatchRepository, providing database queries for upload
// batch creation with reuse-by-filepath semantics.
package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/template-gateway/template-gateway/internal/db/models"
)

// BatchRepository handles upload batch database operations
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository creates a new BatchRepository
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateOrReuse inserts a batch for the given manifest storage path, or returns
// the id of the existing batch when one already exists for that path. The
// conflict resolution is a single atomic statement; the DO UPDATE is a no-op
// write that exists only so RETURNING yields the surviving row's id.
func (r *BatchRepository) CreateOrReuse(ctx context.Context, manifestPath string) (string, error) {
	query := `
		INSERT INTO upload_batches (id, created_at, filepath)
		VALUES ($1, $2, $3)
		ON CONFLICT (filepath) DO UPDATE SET filepath = EXCLUDED.filepath
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query, uuid.New().String(), time.Now(), manifestPath).Scan(&id)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID returns the batch with the given id, or nil when absent
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*models.UploadBatch, error) {
	query := `SELECT id, created_at, filepath FROM upload_batches WHERE id = $1`

	var batch models.UploadBatch
	err := r.db.GetContext(ctx, &batch, query, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}

	return &batch, nil
}
