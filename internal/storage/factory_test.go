package storage_test

import (
	"context"
	"io"
	"testing"

	"github.com/template-gateway/template-gateway/internal/config"
	"github.com/template-gateway/template-gateway/internal/storage"
)

// ---------------------------------------------------------------------------
// Minimal mock Storage implementation for Register tests
// ---------------------------------------------------------------------------

type mockStorage struct{}

func (m *mockStorage) Upload(_ context.Context, _ string, _ io.Reader) (*storage.UploadResult, error) {
	return nil, nil
}
func (m *mockStorage) Download(_ context.Context, _ string) (io.ReadCloser, error) { return nil, nil }
func (m *mockStorage) Delete(_ context.Context, _ string) error                    { return nil }
func (m *mockStorage) Exists(_ context.Context, _ string) (bool, error)            { return false, nil }

// ---------------------------------------------------------------------------
// Register / NewStorage
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	storage.Register("test-backend", func(_ *config.Config) (storage.Storage, error) {
		return &mockStorage{}, nil
	})

	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "test-backend"

	s, err := storage.NewStorage(cfg)
	if err != nil {
		t.Fatalf("NewStorage() error: %v", err)
	}
	if s == nil {
		t.Fatal("NewStorage() returned nil")
	}
}

func TestNewStorage_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.DefaultBackend = "completely-unknown-backend"

	_, err := storage.NewStorage(cfg)
	if err == nil {
		t.Error("NewStorage() = nil error, want error for unregistered backend")
	}
}
