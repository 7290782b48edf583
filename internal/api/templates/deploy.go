// deploy.go implements the per-document deployment endpoint.
package templates

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/template-gateway/template-gateway/internal/services"
	"github.com/template-gateway/template-gateway/internal/sharedo"
)

// DeployHandler handles deployment requests for a converted document
// Implements: POST /api/v1/templates/:docid/deploy
// The optional folder query parameter names the platform repository folder;
// when omitted the entry's first category is used.
func DeployHandler(workflow Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		docid := c.Param("docid")
		folder := c.Query("folder")

		result, err := workflow.Deploy(c.Request.Context(), docid, folder)
		if err != nil {
			status, message := deployErrorStatus(err)
			c.JSON(status, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func deployErrorStatus(err error) (int, string) {
	var notFound *services.NotFoundError
	var notConverted *services.NotConvertedError
	var validation *services.ValidationError
	var authErr *sharedo.AuthenticationError
	var uploadErr *sharedo.UploadError
	var creationErr *sharedo.TemplateCreationError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.As(err, &notConverted):
		return http.StatusConflict, notConverted.Error()
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, validation.Error()
	case errors.As(err, &creationErr):
		if creationErr.InvalidDefinition() {
			return http.StatusUnprocessableEntity, creationErr.Error()
		}
		return http.StatusBadGateway, creationErr.Error()
	case errors.As(err, &authErr), errors.As(err, &uploadErr), errors.Is(err, sharedo.ErrNoUploadedFiles):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "Failed to deploy template"
	}
}
