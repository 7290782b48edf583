// Package models - upload_batch.go defines the UploadBatch model grouping the template
// entries registered by a single archive ingest.
package models

import "time"

// UploadBatch represents one processed archive. Filepath is the storage path of
// the manifest file and is unique: re-ingesting a manifest stored at the same
// path reuses the existing batch instead of creating a new one.
type UploadBatch struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Filepath  string    `json:"filepath" db:"filepath"`
}
