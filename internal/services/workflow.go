// Package services implements the template gateway's three-stage pipeline:
// ingest (unpack a bundle, store the documents, register manifest entries),
// convert (turn a legacy document into .docx via the conversion service), and
// deploy (publish a converted document as a Sharedo template).
//
// Each stage is independently invokable and idempotent at the registry level:
// re-ingesting replaces descriptive metadata without discarding conversion or
// deployment state, and re-running convert or deploy overwrites the previous
// artifact or platform record.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/template-gateway/template-gateway/internal/archive"
	"github.com/template-gateway/template-gateway/internal/converter"
	"github.com/template-gateway/template-gateway/internal/db/models"
	"github.com/template-gateway/template-gateway/internal/docx"
	"github.com/template-gateway/template-gateway/internal/manifest"
	"github.com/template-gateway/template-gateway/internal/sharedo"
	"github.com/template-gateway/template-gateway/internal/storage"
	"github.com/template-gateway/template-gateway/internal/telemetry"
	"github.com/template-gateway/template-gateway/pkg/checksum"
)

// maxConcurrentUploads bounds the errgroup fan-out when storing bundle documents
const maxConcurrentUploads = 8

// TemplateStore is the registry surface the workflows need
type TemplateStore interface {
	Upsert(ctx context.Context, entry *models.TemplateEntry) (*models.TemplateEntry, error)
	GetByDocID(ctx context.Context, docid string) (*models.TemplateEntry, error)
	ListAll(ctx context.Context) ([]models.TemplateEntry, error)
	UpdateConvertedPath(ctx context.Context, docid, path string) error
	UpdateSharedoInfo(ctx context.Context, docid, pathID, downloadURL string) error
}

// BatchStore records one upload batch per manifest path
type BatchStore interface {
	CreateOrReuse(ctx context.Context, manifestPath string) (string, error)
}

// DocumentConverter converts a legacy document to .docx
type DocumentConverter interface {
	Convert(ctx context.Context, filename string, data []byte) ([]byte, error)
}

// Platform is the slice of the Sharedo client the deploy workflow uses
type Platform interface {
	ResolveTemplateTypeSystemName(ctx context.Context, displayName string) (string, error)
	ResolveContextTypeSystemName(ctx context.Context, workTypeDisplayName string) (string, error)
	UploadDocument(ctx context.Context, data []byte, filename, folder string) ([]map[string]any, error)
	CreateTemplate(ctx context.Context, systemName string, definition map[string]any) (string, error)
}

// TemplateWorkflow orchestrates the pipeline stages over the injected
// collaborators.
type TemplateWorkflow struct {
	entries   TemplateStore
	batches   BatchStore
	blobs     storage.Storage
	converter DocumentConverter
	platform  Platform

	// embedProvenance controls whether deploy patches the template id into the
	// document's custom properties before uploading it.
	embedProvenance bool
}

// NewTemplateWorkflow creates the workflow orchestrator
func NewTemplateWorkflow(
	entries TemplateStore,
	batches BatchStore,
	blobs storage.Storage,
	conv DocumentConverter,
	platform Platform,
	embedProvenance bool,
) *TemplateWorkflow {
	return &TemplateWorkflow{
		entries:         entries,
		batches:         batches,
		blobs:           blobs,
		converter:       conv,
		platform:        platform,
		embedProvenance: embedProvenance,
	}
}

// StoredDocument describes one bundle document persisted to blob storage
type StoredDocument struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// IngestResult summarizes a processed bundle
type IngestResult struct {
	BatchID         string                 `json:"batch_id"`
	ManifestFile    string                 `json:"manifest_file"`
	DocumentsStored int                    `json:"documents_stored"`
	Documents       []StoredDocument       `json:"documents"`
	Entries         []models.TemplateEntry `json:"entries"`
}

// ConvertResult reports a stored conversion artifact
type ConvertResult struct {
	DocID             string `json:"docid"`
	ConvertedFilePath string `json:"converted_file_path"`
}

// DeployResult reports a completed platform deployment
type DeployResult struct {
	DocID       string `json:"docid"`
	SystemName  string `json:"system_name"`
	TemplateID  string `json:"template_id"`
	PathID      string `json:"sharedo_pathid"`
	DownloadURL string `json:"sharedo_downloadurl"`
}

// Ingest unpacks the bundle, stores every document and the manifest under
// uploads/, records the upload batch, and upserts one registry entry per
// accepted manifest row. Document uploads run concurrently; entry upserts run
// in manifest order and the first failure aborts the remainder.
func (w *TemplateWorkflow) Ingest(ctx context.Context, archiveData []byte) (*IngestResult, error) {
	start := time.Now()
	result, err := w.ingest(ctx, archiveData)
	observe("ingest", start, err)
	return result, err
}

func (w *TemplateWorkflow) ingest(ctx context.Context, archiveData []byte) (*IngestResult, error) {
	bundle, err := archive.Unpack(archiveData)
	if err != nil {
		return nil, err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentUploads)
	stored := make([]StoredDocument, len(bundle.Documents))
	for i, doc := range bundle.Documents {
		group.Go(func() error {
			blobPath := path.Join(storage.UploadsPrefix, doc.Name)
			upload, err := w.blobs.Upload(groupCtx, blobPath, bytes.NewReader(doc.Data))
			if err != nil {
				return err
			}
			sum, err := checksum.CalculateSHA256(bytes.NewReader(doc.Data))
			if err != nil {
				return err
			}
			stored[i] = StoredDocument{
				Name:     doc.Name,
				Path:     upload.Path,
				Size:     upload.Size,
				Checksum: sum,
			}
			slog.Debug("stored bundle document", "path", blobPath, "size", upload.Size)
			return nil
		})
	}
	manifestPath := path.Join(storage.UploadsPrefix, bundle.Manifest.Name)
	group.Go(func() error {
		_, err := w.blobs.Upload(groupCtx, manifestPath, bytes.NewReader(bundle.Manifest.Data))
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	batchID, err := w.batches.CreateOrReuse(ctx, manifestPath)
	if err != nil {
		return nil, err
	}

	rows, err := manifest.Parse(bundle.Manifest.Data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoValidEntries
	}

	result := &IngestResult{
		BatchID:         batchID,
		ManifestFile:    manifestPath,
		DocumentsStored: len(bundle.Documents),
		Documents:       stored,
	}
	for _, row := range rows {
		entry, err := w.entries.Upsert(ctx, &models.TemplateEntry{
			DocID:           row.DocID,
			Name:            row.Name,
			TemplateType:    row.TemplateType,
			SystemName:      row.SystemName,
			Categories:      row.Categories,
			DataContext:     row.DataContext,
			ParticipantRole: row.ParticipantRole,
			OutputTitle:     row.OutputTitle,
			OutputFileName:  row.OutputFileName,
			DocumentSource:  row.DocumentSource,
			BatchID:         batchID,
		})
		if err != nil {
			return nil, err
		}
		result.Entries = append(result.Entries, *entry)
	}

	slog.Info("bundle ingested",
		"batch_id", batchID,
		"documents", result.DocumentsStored,
		"entries", len(result.Entries))

	return result, nil
}

// Convert downloads the original document for the given docid, runs it through
// the conversion service, stores the artifact under conversions/, and records
// the artifact path on the entry.
func (w *TemplateWorkflow) Convert(ctx context.Context, docid string) (*ConvertResult, error) {
	start := time.Now()
	result, err := w.convert(ctx, docid)
	observe("convert", start, err)
	return result, err
}

func (w *TemplateWorkflow) convert(ctx context.Context, docid string) (*ConvertResult, error) {
	entry, err := w.entries.GetByDocID(ctx, docid)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &NotFoundError{DocID: docid}
	}

	original, err := storage.DownloadBytes(ctx, w.blobs, path.Join(storage.UploadsPrefix, docid))
	if err != nil {
		return nil, err
	}

	converted, err := w.converter.Convert(ctx, docid, original)
	if err != nil {
		telemetry.ConversionsTotal.WithLabelValues(conversionOutcome(err)).Inc()
		return nil, err
	}
	telemetry.ConversionsTotal.WithLabelValues("success").Inc()

	artifactPath := path.Join(storage.ConversionsPrefix, baseName(docid)+".docx")
	if _, err := w.blobs.Upload(ctx, artifactPath, bytes.NewReader(converted)); err != nil {
		return nil, err
	}

	if err := w.entries.UpdateConvertedPath(ctx, docid, artifactPath); err != nil {
		return nil, err
	}

	slog.Info("document converted", "docid", docid, "artifact", artifactPath)

	return &ConvertResult{DocID: docid, ConvertedFilePath: artifactPath}, nil
}

// Deploy publishes the converted document for the given docid as a Sharedo
// template: resolves the entry's display names into platform system names,
// optionally embeds the template id into the document container, uploads the
// document to the platform repository under folder, records the returned
// identifiers, and registers the template definition. An empty folder falls
// back to the entry's first category.
func (w *TemplateWorkflow) Deploy(ctx context.Context, docid, folder string) (*DeployResult, error) {
	start := time.Now()
	result, err := w.deploy(ctx, docid, folder)
	observe("deploy", start, err)
	return result, err
}

func (w *TemplateWorkflow) deploy(ctx context.Context, docid, folder string) (*DeployResult, error) {
	entry, err := w.entries.GetByDocID(ctx, docid)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &NotFoundError{DocID: docid}
	}

	// Template type is advisory: an unresolvable display name downgrades to the
	// platform default rather than failing the deployment.
	templateType := ""
	if entry.TemplateType != "" {
		templateType, err = w.platform.ResolveTemplateTypeSystemName(ctx, entry.TemplateType)
		if err != nil {
			return nil, err
		}
		if templateType == "" {
			slog.Warn("template type not recognised by platform, using default",
				"docid", docid, "template_type", entry.TemplateType)
		}
	}

	// Data context is mandatory: a template must bind to a work type.
	if entry.DataContext == "" {
		return nil, &ValidationError{DocID: docid, Reason: "no data context set"}
	}
	contextType, err := w.platform.ResolveContextTypeSystemName(ctx, entry.DataContext)
	if err != nil {
		return nil, err
	}
	if contextType == "" {
		return nil, &ValidationError{
			DocID:  docid,
			Reason: fmt.Sprintf("data context %q matches no platform work type", entry.DataContext),
		}
	}

	if !entry.Converted() {
		return nil, &NotConvertedError{DocID: docid}
	}

	document, err := storage.DownloadBytes(ctx, w.blobs, entry.ConvertedFilePath)
	if err != nil {
		return nil, err
	}

	systemName := entry.SystemName
	if systemName == "" {
		systemName = deriveSystemName(docid)
	}

	if w.embedProvenance {
		document, err = docx.EmbedTemplateID(document, systemName)
		if err != nil {
			return nil, err
		}
	}

	uploadName := entry.OutputFileName
	if uploadName == "" {
		uploadName = path.Base(entry.ConvertedFilePath)
	}
	if folder == "" {
		folder = folderFor(entry)
	}
	files, err := w.platform.UploadDocument(ctx, document, uploadName, folder)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, sharedo.ErrNoUploadedFiles
	}

	pathID := stringField(files[0], "pathId")
	downloadURL := stringField(files[0], "downloadUrl")
	if err := w.entries.UpdateSharedoInfo(ctx, docid, pathID, downloadURL); err != nil {
		return nil, err
	}

	templateID, err := w.platform.CreateTemplate(ctx, systemName, templateDefinition(entry, systemName, templateType, contextType, uploadName, pathID))
	if err != nil {
		return nil, err
	}

	slog.Info("template deployed",
		"docid", docid,
		"system_name", systemName,
		"template_id", templateID)

	return &DeployResult{
		DocID:       docid,
		SystemName:  systemName,
		TemplateID:  templateID,
		PathID:      pathID,
		DownloadURL: downloadURL,
	}, nil
}

// List returns every registered entry, newest first
func (w *TemplateWorkflow) List(ctx context.Context) ([]models.TemplateEntry, error) {
	return w.entries.ListAll(ctx)
}

// templateDefinition assembles the platform template definition. The
// structural shape is fixed: one active template with a single mandatory
// pack document sourced from the uploaded repository file.
func templateDefinition(entry *models.TemplateEntry, systemName, templateType, contextType, fileName, pathID string) map[string]any {
	title := entry.OutputTitle
	if title == "" {
		title = entry.Name
	}

	def := map[string]any{
		"systemName":            systemName,
		"title":                 title,
		"description":           entry.Name,
		"contextTypeSystemName": contextType,
		"active":                true,
		"outputTitle":           title,
		"outputFileName":        fileName,
		"documents": []map[string]any{
			{
				"fileName":  fileName,
				"pathId":    pathID,
				"source":    documentSource(entry),
				"mandatory": true,
				"order":     0,
			},
		},
	}
	if templateType != "" {
		def["templateTypeSystemName"] = templateType
	}
	if entry.ParticipantRole != "" {
		def["recipientRoleSystemName"] = entry.ParticipantRole
	}
	if tags := splitTags(entry.Categories); len(tags) > 0 {
		def["tags"] = tags
	}

	return def
}

func documentSource(entry *models.TemplateEntry) string {
	if entry.DocumentSource != "" {
		return entry.DocumentSource
	}
	return "repository"
}

// folderFor picks the platform repository folder: the first category, or the
// repository root when the entry is uncategorised.
func folderFor(entry *models.TemplateEntry) string {
	tags := splitTags(entry.Categories)
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func splitTags(categories string) []string {
	var tags []string
	for _, part := range strings.Split(categories, ",") {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// deriveSystemName turns a docid into a platform-safe system name by stripping
// the extension and lowercasing.
func deriveSystemName(docid string) string {
	name := strings.ToLower(baseName(docid))
	return strings.ReplaceAll(name, " ", "-")
}

// baseName strips the file extension from a docid
func baseName(docid string) string {
	return strings.TrimSuffix(docid, path.Ext(docid))
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func conversionOutcome(err error) string {
	if errors.Is(err, converter.ErrConversionTimeout) {
		return "timeout"
	}
	return "error"
}

func observe(operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	telemetry.WorkflowOperationsTotal.WithLabelValues(operation, outcome).Inc()
	telemetry.WorkflowDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
