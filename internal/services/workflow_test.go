package services

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/template-gateway/template-gateway/internal/archive"
	"github.com/template-gateway/template-gateway/internal/db/models"
	"github.com/template-gateway/template-gateway/internal/sharedo"
	"github.com/template-gateway/template-gateway/internal/storage"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Upload(_ context.Context, path string, reader io.Reader) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[path] = data
	return &storage.UploadResult{Path: path, Size: int64(len(data))}, nil
}

func (f *fakeBlobs) Download(_ context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object not found: %s", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) Delete(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	return nil
}

func (f *fakeBlobs) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[path]
	return ok, nil
}

type fakeEntries struct {
	entries    map[string]*models.TemplateEntry
	upserted   []string
	failUpsert string // docid whose upsert fails
}

func newFakeEntries() *fakeEntries {
	return &fakeEntries{entries: make(map[string]*models.TemplateEntry)}
}

func (f *fakeEntries) Upsert(_ context.Context, entry *models.TemplateEntry) (*models.TemplateEntry, error) {
	if entry.DocID == f.failUpsert {
		return nil, errors.New("database gone")
	}
	stored := *entry
	if existing, ok := f.entries[entry.DocID]; ok {
		stored.ConvertedFilePath = existing.ConvertedFilePath
		stored.SharedoPathID = existing.SharedoPathID
		stored.SharedoDownloadURL = existing.SharedoDownloadURL
	}
	f.entries[entry.DocID] = &stored
	f.upserted = append(f.upserted, entry.DocID)
	result := stored
	return &result, nil
}

func (f *fakeEntries) GetByDocID(_ context.Context, docid string) (*models.TemplateEntry, error) {
	entry, ok := f.entries[docid]
	if !ok {
		return nil, nil
	}
	result := *entry
	return &result, nil
}

func (f *fakeEntries) ListAll(_ context.Context) ([]models.TemplateEntry, error) {
	var all []models.TemplateEntry
	for _, entry := range f.entries {
		all = append(all, *entry)
	}
	return all, nil
}

func (f *fakeEntries) UpdateConvertedPath(_ context.Context, docid, path string) error {
	entry, ok := f.entries[docid]
	if !ok {
		return fmt.Errorf("no entry for %s", docid)
	}
	entry.ConvertedFilePath = path
	return nil
}

func (f *fakeEntries) UpdateSharedoInfo(_ context.Context, docid, pathID, downloadURL string) error {
	entry, ok := f.entries[docid]
	if !ok {
		return fmt.Errorf("no entry for %s", docid)
	}
	entry.SharedoPathID = pathID
	entry.SharedoDownloadURL = downloadURL
	return nil
}

type fakeBatches struct {
	paths []string
}

func (f *fakeBatches) CreateOrReuse(_ context.Context, manifestPath string) (string, error) {
	f.paths = append(f.paths, manifestPath)
	return "batch-1", nil
}

type fakeConverter struct {
	convert func(filename string, data []byte) ([]byte, error)
}

func (f *fakeConverter) Convert(_ context.Context, filename string, data []byte) ([]byte, error) {
	return f.convert(filename, data)
}

type fakePlatform struct {
	templateTypes map[string]string
	contextTypes  map[string]string

	uploadedName string
	uploadedData []byte
	uploadFolder string
	uploadResult []map[string]any

	createdSystemName string
	createdDefinition map[string]any
}

func (f *fakePlatform) ResolveTemplateTypeSystemName(_ context.Context, displayName string) (string, error) {
	return f.templateTypes[strings.ToLower(displayName)], nil
}

func (f *fakePlatform) ResolveContextTypeSystemName(_ context.Context, workTypeDisplayName string) (string, error) {
	return f.contextTypes[strings.ToLower(workTypeDisplayName)], nil
}

func (f *fakePlatform) UploadDocument(_ context.Context, data []byte, filename, folder string) ([]map[string]any, error) {
	f.uploadedData = data
	f.uploadedName = filename
	f.uploadFolder = folder
	return f.uploadResult, nil
}

func (f *fakePlatform) CreateTemplate(_ context.Context, systemName string, definition map[string]any) (string, error) {
	f.createdSystemName = systemName
	f.createdDefinition = definition
	return "tmpl-id-1", nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := writer.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

const sampleManifest = `docid,name,template_type,data_context,categories,output_title
doc1.dot,Demand Letter,Letter Template,Matter,Litigation,Demand Letter Output
doc2.doc,Court Form,,Matter,,
`

func newWorkflow(entries *fakeEntries, batches *fakeBatches, blobs *fakeBlobs, conv *fakeConverter, platform *fakePlatform, embed bool) *TemplateWorkflow {
	if conv == nil {
		conv = &fakeConverter{convert: func(string, []byte) ([]byte, error) { return []byte("converted"), nil }}
	}
	return NewTemplateWorkflow(entries, batches, blobs, conv, platform, embed)
}

// ---------------------------------------------------------------------------
// Ingest
// ---------------------------------------------------------------------------

func TestIngest(t *testing.T) {
	blobs := newFakeBlobs()
	entries := newFakeEntries()
	batches := &fakeBatches{}
	w := newWorkflow(entries, batches, blobs, nil, &fakePlatform{}, false)

	bundle := buildZip(t, map[string][]byte{
		"doc1.dot":     []byte("dot bytes"),
		"doc2.doc":     []byte("doc bytes"),
		"manifest.csv": []byte(sampleManifest),
	})

	result, err := w.Ingest(context.Background(), bundle)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if result.BatchID != "batch-1" {
		t.Errorf("BatchID = %q", result.BatchID)
	}
	if result.ManifestFile != "uploads/manifest.csv" {
		t.Errorf("ManifestFile = %q", result.ManifestFile)
	}
	if result.DocumentsStored != 2 {
		t.Errorf("DocumentsStored = %d, want 2", result.DocumentsStored)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("Entries = %d, want 2", len(result.Entries))
	}
	if result.Entries[0].DocID != "doc1.dot" || result.Entries[1].DocID != "doc2.doc" {
		t.Errorf("entry order = %s, %s", result.Entries[0].DocID, result.Entries[1].DocID)
	}
	if result.Entries[0].BatchID != "batch-1" {
		t.Errorf("entry BatchID = %q", result.Entries[0].BatchID)
	}

	for _, path := range []string{"uploads/doc1.dot", "uploads/doc2.doc", "uploads/manifest.csv"} {
		if _, ok := blobs.objects[path]; !ok {
			t.Errorf("blob %s not stored", path)
		}
	}
	if string(blobs.objects["uploads/doc1.dot"]) != "dot bytes" {
		t.Errorf("doc1 content = %q", blobs.objects["uploads/doc1.dot"])
	}
	if len(batches.paths) != 1 || batches.paths[0] != "uploads/manifest.csv" {
		t.Errorf("batch paths = %v", batches.paths)
	}

	if len(result.Documents) != 2 {
		t.Fatalf("Documents = %d, want 2", len(result.Documents))
	}
	for _, doc := range result.Documents {
		if doc.Checksum == "" || doc.Size == 0 {
			t.Errorf("stored document %s missing checksum or size: %+v", doc.Name, doc)
		}
	}
}

func TestIngest_MissingManifest(t *testing.T) {
	w := newWorkflow(newFakeEntries(), &fakeBatches{}, newFakeBlobs(), nil, &fakePlatform{}, false)

	bundle := buildZip(t, map[string][]byte{"doc1.dot": []byte("x")})
	_, err := w.Ingest(context.Background(), bundle)
	if !errors.Is(err, archive.ErrMissingManifest) {
		t.Errorf("err = %v, want ErrMissingManifest", err)
	}
}

func TestIngest_NoValidEntries(t *testing.T) {
	w := newWorkflow(newFakeEntries(), &fakeBatches{}, newFakeBlobs(), nil, &fakePlatform{}, false)

	bundle := buildZip(t, map[string][]byte{
		"manifest.csv": []byte("docid,name\n,Missing DocID\ndoc3.dot,\n"),
	})
	_, err := w.Ingest(context.Background(), bundle)
	if !errors.Is(err, ErrNoValidEntries) {
		t.Errorf("err = %v, want ErrNoValidEntries", err)
	}
}

func TestIngest_UpsertFailureAborts(t *testing.T) {
	entries := newFakeEntries()
	entries.failUpsert = "doc2.doc"
	w := newWorkflow(entries, &fakeBatches{}, newFakeBlobs(), nil, &fakePlatform{}, false)

	bundle := buildZip(t, map[string][]byte{
		"manifest.csv": []byte(sampleManifest),
	})
	_, err := w.Ingest(context.Background(), bundle)
	if err == nil {
		t.Fatal("Ingest succeeded, want error")
	}
	if len(entries.upserted) != 1 || entries.upserted[0] != "doc1.dot" {
		t.Errorf("upserted = %v, want [doc1.dot]", entries.upserted)
	}
}

func TestIngest_ReingestPreservesDerivedState(t *testing.T) {
	entries := newFakeEntries()
	blobs := newFakeBlobs()
	w := newWorkflow(entries, &fakeBatches{}, blobs, nil, &fakePlatform{}, false)

	bundle := buildZip(t, map[string][]byte{
		"doc1.dot":     []byte("dot bytes"),
		"manifest.csv": []byte("docid,name\ndoc1.dot,Demand Letter\n"),
	})

	if _, err := w.Ingest(context.Background(), bundle); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	if err := entries.UpdateConvertedPath(context.Background(), "doc1.dot", "conversions/doc1.docx"); err != nil {
		t.Fatalf("UpdateConvertedPath: %v", err)
	}

	if _, err := w.Ingest(context.Background(), bundle); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}

	entry, _ := entries.GetByDocID(context.Background(), "doc1.dot")
	if entry.ConvertedFilePath != "conversions/doc1.docx" {
		t.Errorf("ConvertedFilePath = %q, want preserved", entry.ConvertedFilePath)
	}
}

// ---------------------------------------------------------------------------
// Convert
// ---------------------------------------------------------------------------

func TestConvert(t *testing.T) {
	blobs := newFakeBlobs()
	entries := newFakeEntries()
	entries.entries["doc1.dot"] = &models.TemplateEntry{DocID: "doc1.dot", Name: "Demand Letter"}
	blobs.objects["uploads/doc1.dot"] = []byte("legacy bytes")

	conv := &fakeConverter{convert: func(filename string, data []byte) ([]byte, error) {
		if filename != "doc1.dot" {
			t.Errorf("filename = %s", filename)
		}
		if string(data) != "legacy bytes" {
			t.Errorf("data = %q", data)
		}
		return []byte("docx bytes"), nil
	}}
	w := newWorkflow(entries, &fakeBatches{}, blobs, conv, &fakePlatform{}, false)

	result, err := w.Convert(context.Background(), "doc1.dot")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if result.ConvertedFilePath != "conversions/doc1.docx" {
		t.Errorf("ConvertedFilePath = %q", result.ConvertedFilePath)
	}
	if string(blobs.objects["conversions/doc1.docx"]) != "docx bytes" {
		t.Errorf("artifact = %q", blobs.objects["conversions/doc1.docx"])
	}
	entry, _ := entries.GetByDocID(context.Background(), "doc1.dot")
	if entry.ConvertedFilePath != "conversions/doc1.docx" {
		t.Errorf("entry ConvertedFilePath = %q", entry.ConvertedFilePath)
	}
}

func TestConvert_NotFound(t *testing.T) {
	w := newWorkflow(newFakeEntries(), &fakeBatches{}, newFakeBlobs(), nil, &fakePlatform{}, false)

	_, err := w.Convert(context.Background(), "ghost.dot")
	var nerr *NotFoundError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
	if nerr.DocID != "ghost.dot" {
		t.Errorf("DocID = %q", nerr.DocID)
	}
}

func TestConvert_ConverterError(t *testing.T) {
	blobs := newFakeBlobs()
	entries := newFakeEntries()
	entries.entries["doc1.dot"] = &models.TemplateEntry{DocID: "doc1.dot"}
	blobs.objects["uploads/doc1.dot"] = []byte("x")

	conv := &fakeConverter{convert: func(string, []byte) ([]byte, error) {
		return nil, errors.New("service down")
	}}
	w := newWorkflow(entries, &fakeBatches{}, blobs, conv, &fakePlatform{}, false)

	_, err := w.Convert(context.Background(), "doc1.dot")
	if err == nil {
		t.Fatal("Convert succeeded, want error")
	}
	if _, ok := blobs.objects["conversions/doc1.docx"]; ok {
		t.Error("artifact stored despite conversion failure")
	}
}

// ---------------------------------------------------------------------------
// Deploy
// ---------------------------------------------------------------------------

func deployableEntry() *models.TemplateEntry {
	return &models.TemplateEntry{
		DocID:             "doc1.dot",
		Name:              "Demand Letter",
		TemplateType:      "Letter Template",
		DataContext:       "Matter",
		Categories:        "Litigation, Debt Recovery",
		OutputTitle:       "Demand Letter Output",
		OutputFileName:    "demand-letter.docx",
		ConvertedFilePath: "conversions/doc1.docx",
	}
}

func deployFixture(t *testing.T, embed bool) (*TemplateWorkflow, *fakeEntries, *fakeBlobs, *fakePlatform) {
	t.Helper()
	blobs := newFakeBlobs()
	entries := newFakeEntries()
	entries.entries["doc1.dot"] = deployableEntry()
	blobs.objects["conversions/doc1.docx"] = buildZip(t, map[string][]byte{
		"word/document.xml": []byte("<w:document/>"),
	})

	platform := &fakePlatform{
		templateTypes: map[string]string{"letter template": "letter-template"},
		contextTypes:  map[string]string{"matter": "matter"},
		uploadResult: []map[string]any{
			{"pathId": "path-9", "downloadUrl": "https://host/dl/path-9"},
		},
	}
	w := newWorkflow(entries, &fakeBatches{}, blobs, nil, platform, embed)
	return w, entries, blobs, platform
}

func TestDeploy(t *testing.T) {
	w, entries, _, platform := deployFixture(t, false)

	result, err := w.Deploy(context.Background(), "doc1.dot", "")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if result.TemplateID != "tmpl-id-1" {
		t.Errorf("TemplateID = %q", result.TemplateID)
	}
	if result.SystemName != "doc1" {
		t.Errorf("SystemName = %q, want doc1", result.SystemName)
	}
	if result.PathID != "path-9" || result.DownloadURL != "https://host/dl/path-9" {
		t.Errorf("platform identifiers = %q / %q", result.PathID, result.DownloadURL)
	}

	entry, _ := entries.GetByDocID(context.Background(), "doc1.dot")
	if entry.SharedoPathID != "path-9" || entry.SharedoDownloadURL != "https://host/dl/path-9" {
		t.Errorf("recorded identifiers = %q / %q", entry.SharedoPathID, entry.SharedoDownloadURL)
	}

	if platform.uploadedName != "demand-letter.docx" {
		t.Errorf("uploaded filename = %q", platform.uploadedName)
	}
	if platform.uploadFolder != "Litigation" {
		t.Errorf("upload folder = %q", platform.uploadFolder)
	}

	def := platform.createdDefinition
	if def["contextTypeSystemName"] != "matter" {
		t.Errorf("contextTypeSystemName = %v", def["contextTypeSystemName"])
	}
	if def["templateTypeSystemName"] != "letter-template" {
		t.Errorf("templateTypeSystemName = %v", def["templateTypeSystemName"])
	}
	if def["title"] != "Demand Letter Output" {
		t.Errorf("title = %v", def["title"])
	}
	docs, ok := def["documents"].([]map[string]any)
	if !ok || len(docs) != 1 {
		t.Fatalf("documents = %v", def["documents"])
	}
	if docs[0]["pathId"] != "path-9" || docs[0]["mandatory"] != true {
		t.Errorf("pack document = %v", docs[0])
	}
	if tags, ok := def["tags"].([]string); !ok || len(tags) != 2 || tags[1] != "Debt Recovery" {
		t.Errorf("tags = %v", def["tags"])
	}
}

func TestDeploy_ExplicitFolder(t *testing.T) {
	w, _, _, platform := deployFixture(t, false)

	if _, err := w.Deploy(context.Background(), "doc1.dot", "Court Bundles"); err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if platform.uploadFolder != "Court Bundles" {
		t.Errorf("upload folder = %q, want Court Bundles", platform.uploadFolder)
	}
}

func TestDeploy_EmbedsTemplateID(t *testing.T) {
	w, _, _, platform := deployFixture(t, true)

	if _, err := w.Deploy(context.Background(), "doc1.dot", ""); err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(platform.uploadedData), int64(len(platform.uploadedData)))
	if err != nil {
		t.Fatalf("uploaded document is not a zip: %v", err)
	}
	var custom string
	for _, file := range reader.File {
		if file.Name == "docProps/custom.xml" {
			rc, _ := file.Open()
			data, _ := io.ReadAll(rc)
			rc.Close()
			custom = string(data)
		}
	}
	if custom == "" {
		t.Fatal("uploaded document has no docProps/custom.xml")
	}
	if !strings.Contains(custom, "doc1") {
		t.Errorf("custom.xml does not carry the template id: %s", custom)
	}
}

func TestDeploy_NotConverted(t *testing.T) {
	entries := newFakeEntries()
	entries.entries["doc1.dot"] = &models.TemplateEntry{DocID: "doc1.dot", DataContext: "Matter"}
	platform := &fakePlatform{contextTypes: map[string]string{"matter": "matter"}}
	w := newWorkflow(entries, &fakeBatches{}, newFakeBlobs(), nil, platform, false)

	_, err := w.Deploy(context.Background(), "doc1.dot", "")
	var nerr *NotConvertedError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want *NotConvertedError", err)
	}
}

func TestDeploy_NotFound(t *testing.T) {
	w := newWorkflow(newFakeEntries(), &fakeBatches{}, newFakeBlobs(), nil, &fakePlatform{}, false)

	_, err := w.Deploy(context.Background(), "ghost.dot", "")
	var nerr *NotFoundError
	if !errors.As(err, &nerr) {
		t.Fatalf("err = %v, want *NotFoundError", err)
	}
}

func TestDeploy_UnresolvableDataContext(t *testing.T) {
	w, _, _, platform := deployFixture(t, false)
	platform.contextTypes = map[string]string{}

	_, err := w.Deploy(context.Background(), "doc1.dot", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestDeploy_EmptyDataContext(t *testing.T) {
	w, entries, _, _ := deployFixture(t, false)
	entries.entries["doc1.dot"].DataContext = ""

	_, err := w.Deploy(context.Background(), "doc1.dot", "")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
}

func TestDeploy_NoUploadedFiles(t *testing.T) {
	w, _, _, platform := deployFixture(t, false)
	platform.uploadResult = []map[string]any{}

	_, err := w.Deploy(context.Background(), "doc1.dot", "")
	if !errors.Is(err, sharedo.ErrNoUploadedFiles) {
		t.Errorf("err = %v, want ErrNoUploadedFiles", err)
	}
}
