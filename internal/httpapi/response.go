package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RespondOK sends a 200 OK response with the given data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}
