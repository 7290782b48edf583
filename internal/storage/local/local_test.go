package local

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/template-gateway/template-gateway/internal/config"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	res, err := s.Upload(ctx, "uploads/doc1.dot", bytes.NewReader([]byte("template bytes")))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Path != "uploads/doc1.dot" {
		t.Errorf("Path = %s, want uploads/doc1.dot", res.Path)
	}
	if res.Size != int64(len("template bytes")) {
		t.Errorf("Size = %d", res.Size)
	}

	rc, err := s.Download(ctx, "uploads/doc1.dot")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "template bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestUpload_Overwrites(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	if _, err := s.Upload(ctx, "uploads/doc1.dot", bytes.NewReader([]byte("first"))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := s.Upload(ctx, "uploads/doc1.dot", bytes.NewReader([]byte("second"))); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	rc, err := s.Download(ctx, "uploads/doc1.dot")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}
}

func TestExists(t *testing.T) {
	s := newLocal(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "uploads/missing.dot")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists = true for missing object")
	}

	if _, err := s.Upload(ctx, "uploads/doc1.dot", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	ok, err = s.Exists(ctx, "uploads/doc1.dot")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Error("Exists = false for stored object")
	}
}

func TestDelete_MissingIsNoop(t *testing.T) {
	s := newLocal(t)
	if err := s.Delete(context.Background(), "uploads/missing.dot"); err != nil {
		t.Errorf("Delete of missing object should be a no-op, got %v", err)
	}
}
