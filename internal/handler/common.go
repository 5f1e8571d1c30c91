package handler

import (
	"procurement/pkg/apperr"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

// actorID returns the authenticated user's id set by the auth middleware, or
// "" for unauthenticated routes.
func actorID(c *gin.Context) string {
	v, exists := c.Get("userID")
	if !exists {
		return ""
	}
	id, ok := v.(string)
	if !ok {
		return ""
	}
	return id
}

// respondError maps coded service errors onto the response envelope.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	c.JSON(status, response.Error(status, apperr.MessageOf(err)))
}
