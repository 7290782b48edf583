// convert.go implements the per-document conversion endpoint.
package templates

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/template-gateway/template-gateway/internal/converter"
	"github.com/template-gateway/template-gateway/internal/services"
)

// ConvertHandler handles conversion requests for a registered document
// Implements: POST /api/v1/templates/:docid/convert
func ConvertHandler(workflow Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		docid := c.Param("docid")

		result, err := workflow.Convert(c.Request.Context(), docid)
		if err != nil {
			status, message := convertErrorStatus(err)
			c.JSON(status, gin.H{"error": message})
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

func convertErrorStatus(err error) (int, string) {
	var notFound *services.NotFoundError
	var convErr *converter.ConversionError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error()
	case errors.Is(err, converter.ErrConversionTimeout):
		return http.StatusGatewayTimeout, "Document conversion timed out"
	case errors.As(err, &convErr):
		return http.StatusBadGateway, convErr.Error()
	default:
		return http.StatusInternalServerError, "Failed to convert document"
	}
}
