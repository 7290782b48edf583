// template_repository.go implements TemplateRepository, providing database queries for
// template entry upsert (full-replace on docid conflict), point lookup, listing, and
// the targeted partial updates written by the convert and deploy workflows.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/template-gateway/template-gateway/internal/db/models"
)

// PersistenceError wraps a database failure with the docid of the entry that
// could not be written, so callers can render a precise message.
type PersistenceError struct {
	DocID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist template entry %q: %v", e.DocID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// TemplateRepository handles template entry database operations
type TemplateRepository struct {
	db *sqlx.DB
}

// NewTemplateRepository creates a new TemplateRepository
func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const entryColumns = `id, docid, template_type, system_name, name, categories, data_context,
		participant_role, output_title, output_file_name, document_source, batch_id,
		converted_file_path, sharedo_pathid, sharedo_downloadurl, created_at, updated_at`

// Upsert inserts the entry, or on docid conflict overwrites every descriptive
// field and the batch id with the new values (full replace, not merge). Derived
// state (converted_file_path, sharedo_*) is preserved on conflict so a
// re-ingest does not discard conversion or deployment progress. Returns the
// resulting row.
func (r *TemplateRepository) Upsert(ctx context.Context, entry *models.TemplateEntry) (*models.TemplateEntry, error) {
	query := `
		INSERT INTO template_entries (
			id, docid, template_type, system_name, name, categories, data_context,
			participant_role, output_title, output_file_name, document_source, batch_id,
			converted_file_path, sharedo_pathid, sharedo_downloadurl, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (docid) DO UPDATE SET
			template_type = EXCLUDED.template_type,
			system_name = EXCLUDED.system_name,
			name = EXCLUDED.name,
			categories = EXCLUDED.categories,
			data_context = EXCLUDED.data_context,
			participant_role = EXCLUDED.participant_role,
			output_title = EXCLUDED.output_title,
			output_file_name = EXCLUDED.output_file_name,
			document_source = EXCLUDED.document_source,
			batch_id = EXCLUDED.batch_id,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + entryColumns

	now := time.Now()
	var result models.TemplateEntry
	err := r.db.GetContext(ctx, &result, query,
		uuid.New().String(),
		entry.DocID,
		entry.TemplateType,
		entry.SystemName,
		entry.Name,
		entry.Categories,
		entry.DataContext,
		entry.ParticipantRole,
		entry.OutputTitle,
		entry.OutputFileName,
		entry.DocumentSource,
		entry.BatchID,
		entry.ConvertedFilePath,
		entry.SharedoPathID,
		entry.SharedoDownloadURL,
		now,
		now,
	)
	if err != nil {
		return nil, &PersistenceError{DocID: entry.DocID, Err: err}
	}

	return &result, nil
}

// GetByDocID returns the entry with the given docid, or nil when absent
func (r *TemplateRepository) GetByDocID(ctx context.Context, docid string) (*models.TemplateEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM template_entries WHERE docid = $1`

	var entry models.TemplateEntry
	err := r.db.GetContext(ctx, &entry, query, docid)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}

	return &entry, nil
}

// ListAll returns all entries, most recently created first
func (r *TemplateRepository) ListAll(ctx context.Context) ([]models.TemplateEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM template_entries ORDER BY created_at DESC`

	entries := []models.TemplateEntry{}
	if err := r.db.SelectContext(ctx, &entries, query); err != nil {
		return nil, err
	}

	return entries, nil
}

// UpdateConvertedPath records the storage path of the converted artifact.
// Idempotent: re-running with the same value is a harmless overwrite.
func (r *TemplateRepository) UpdateConvertedPath(ctx context.Context, docid, path string) error {
	query := `UPDATE template_entries SET converted_file_path = $1, updated_at = $2 WHERE docid = $3`

	_, err := r.db.ExecContext(ctx, query, path, time.Now(), docid)
	if err != nil {
		return &PersistenceError{DocID: docid, Err: err}
	}

	return nil
}

// UpdateSharedoInfo records the platform identifiers returned by a deployment.
// Idempotent for the same reason as UpdateConvertedPath.
func (r *TemplateRepository) UpdateSharedoInfo(ctx context.Context, docid, pathID, downloadURL string) error {
	query := `UPDATE template_entries SET sharedo_pathid = $1, sharedo_downloadurl = $2, updated_at = $3 WHERE docid = $4`

	_, err := r.db.ExecContext(ctx, query, pathID, downloadURL, time.Now(), docid)
	if err != nil {
		return &PersistenceError{DocID: docid, Err: err}
	}

	return nil
}

// isNoRows reports whether err is sql.ErrNoRows (directly or wrapped)
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
