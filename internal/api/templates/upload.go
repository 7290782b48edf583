// Package templates implements the HTTP endpoints for the template pipeline:
// bundle upload (ingest), per-document conversion and deployment, and the
// registry listing. Handlers translate workflow errors into HTTP status codes;
// all pipeline logic lives in internal/services.
package templates

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/template-gateway/template-gateway/internal/archive"
	"github.com/template-gateway/template-gateway/internal/db/models"
	"github.com/template-gateway/template-gateway/internal/manifest"
	"github.com/template-gateway/template-gateway/internal/services"
)

// Workflow is the pipeline surface the handlers call
type Workflow interface {
	Ingest(ctx context.Context, archiveData []byte) (*services.IngestResult, error)
	Convert(ctx context.Context, docid string) (*services.ConvertResult, error)
	Deploy(ctx context.Context, docid, folder string) (*services.DeployResult, error)
	List(ctx context.Context) ([]models.TemplateEntry, error)
}

// UploadHandler handles template bundle uploads
// Implements: POST /api/v1/templates/upload
// Accepts multipart form with: file (zip bundle containing documents and a CSV manifest)
func UploadHandler(workflow Workflow, maxUploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to parse multipart form",
			})
			return
		}

		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Missing or invalid file upload",
			})
			return
		}
		defer file.Close()

		buffer := &bytes.Buffer{}
		if _, err := io.Copy(buffer, io.LimitReader(file, maxUploadBytes)); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read uploaded file",
			})
			return
		}

		result, err := workflow.Ingest(c.Request.Context(), buffer.Bytes())
		if err != nil {
			status, message := ingestErrorStatus(err)
			c.JSON(status, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusCreated, result)
	}
}

// ingestErrorStatus maps an ingest failure to an HTTP status and client message
func ingestErrorStatus(err error) (int, string) {
	var parseErr *manifest.ParseError
	switch {
	case errors.Is(err, zip.ErrFormat):
		return http.StatusBadRequest, "Uploaded file is not a valid zip archive"
	case errors.Is(err, archive.ErrMissingManifest):
		return http.StatusBadRequest, "Bundle contains no CSV manifest"
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, parseErr.Error()
	case errors.Is(err, services.ErrNoValidEntries):
		return http.StatusBadRequest, "Manifest contains no valid entries"
	default:
		return http.StatusInternalServerError, "Failed to ingest bundle"
	}
}
