// Package models - template_entry.go defines the TemplateEntry model representing one
// registered document template and its processing state through the convert/deploy
// pipeline.
package models

import "time"

// TemplateEntry represents one logical document template in the registry.
// DocID is the stable natural key: it is the original file name inside the
// uploaded archive and doubles as the blob-store path under uploads/.
type TemplateEntry struct {
	ID              string `json:"id" db:"id"`
	DocID           string `json:"docid" db:"docid"`
	TemplateType    string `json:"template_type" db:"template_type"`
	SystemName      string `json:"system_name" db:"system_name"`
	Name            string `json:"name" db:"name"`
	Categories      string `json:"categories" db:"categories"`
	DataContext     string `json:"data_context" db:"data_context"`
	ParticipantRole string `json:"participant_role" db:"participant_role"`
	OutputTitle     string `json:"output_title" db:"output_title"`
	OutputFileName  string `json:"output_file_name" db:"output_file_name"`
	DocumentSource  string `json:"document_source" db:"document_source"`
	BatchID         string `json:"batch_id" db:"batch_id"`

	// Derived state, empty until the corresponding pipeline stage succeeds
	ConvertedFilePath  string `json:"converted_file_path" db:"converted_file_path"`
	SharedoPathID      string `json:"sharedo_pathid" db:"sharedo_pathid"`
	SharedoDownloadURL string `json:"sharedo_downloadurl" db:"sharedo_downloadurl"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Converted reports whether the entry has a stored conversion artifact and is
// therefore eligible for deployment.
func (e *TemplateEntry) Converted() bool {
	return e.ConvertedFilePath != ""
}
