package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml in reach

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Storage.DefaultBackend)
	assert.Equal(t, 30*time.Second, cfg.Converter.Timeout)
	assert.True(t, cfg.Workflow.Deploy.EmbedProvenance)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Telemetry.Metrics.Port)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9001
storage:
  default_backend: s3
  s3:
    bucket: templates
    region: eu-west-2
sharedo:
  host_url: https://demo.sharedo.co.uk
workflow:
  deploy:
    embed_provenance: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.DefaultBackend)
	assert.Equal(t, "templates", cfg.Storage.S3.Bucket)
	assert.Equal(t, "eu-west-2", cfg.Storage.S3.Region)
	assert.Equal(t, "https://demo.sharedo.co.uk", cfg.Sharedo.HostURL)
	assert.False(t, cfg.Workflow.Deploy.EmbedProvenance)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  name: from_file\n"), 0o600))

	t.Setenv("TGW_DATABASE_NAME", "from_env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Database.Name)
}

func TestLoad_ExpandsSecretReferences(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sharedo:\n  client_secret: ${SHAREDO_SECRET}\n"), 0o600))

	t.Setenv("SHAREDO_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Sharedo.ClientSecret)
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  default_backend: tape\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid storage backend")
}

func TestValidate_S3RequiresBucket(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  default_backend: s3\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 bucket is required")
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "gw", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 dbname=gw user=u password=p sslmode=disable", d.DSN())
}
