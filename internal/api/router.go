// Package api wires together all HTTP routes for the template gateway.
//
// The pipeline endpoints live under /api/v1/templates: bundle upload, per-document
// convert and deploy, and the registry listing. /health is the load-balancer probe.
// Prometheus metrics are deliberately NOT served here; main.go starts them on a
// side-channel port so the scrape path stays off the public ingress.
package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/template-gateway/template-gateway/internal/api/templates"
	"github.com/template-gateway/template-gateway/internal/config"
	"github.com/template-gateway/template-gateway/internal/converter"
	"github.com/template-gateway/template-gateway/internal/db/repositories"
	"github.com/template-gateway/template-gateway/internal/middleware"
	"github.com/template-gateway/template-gateway/internal/services"
	"github.com/template-gateway/template-gateway/internal/sharedo"
	"github.com/template-gateway/template-gateway/internal/storage"

	// Import storage backends to register them
	_ "github.com/template-gateway/template-gateway/internal/storage/azure"
	_ "github.com/template-gateway/template-gateway/internal/storage/local"
	_ "github.com/template-gateway/template-gateway/internal/storage/s3"
)

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sqlx.DB) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())

	storageBackend, err := storage.NewStorage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage backend: %v", err)
	}
	log.Printf("Initialized storage backend: %s", cfg.Storage.DefaultBackend)

	entryRepo := repositories.NewTemplateRepository(db)
	batchRepo := repositories.NewBatchRepository(db)

	convClient := converter.New(cfg.Converter.URL, cfg.Converter.Timeout)
	platform := sharedo.NewClient(cfg.Sharedo, sharedo.NewTokenCache())

	workflow := services.NewTemplateWorkflow(
		entryRepo,
		batchRepo,
		storageBackend,
		convClient,
		platform,
		cfg.Workflow.Deploy.EmbedProvenance,
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/templates/upload", templates.UploadHandler(workflow, cfg.Server.MaxUploadBytes))
		v1.POST("/templates/:docid/convert", templates.ConvertHandler(workflow))
		v1.POST("/templates/:docid/deploy", templates.DeployHandler(workflow))
		v1.GET("/templates", templates.ListHandler(workflow))
	}

	return router
}
