// list.go implements the registry listing endpoint.
package templates

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListHandler returns every registered template entry, newest first
// Implements: GET /api/v1/templates
func ListHandler(workflow Workflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := workflow.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list templates",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"templates": entries,
			"count":     len(entries),
		})
	}
}
