package handler

import (
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/service"
	"procurement/pkg/pagination"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/audit-logs")
	group.Use(middleware.RequireRole("admin", "manager")) // Protect history logs
	{
		group.GET("", h.GetAuditLogs)
	}
}

// GetAuditLogs retrieves the audit trail newest first
// @Summary      Get audit logs
// @Description  Retrieves audit logs with actor details, optionally filtered to one entity
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        entity_type  query     string  false  "Entity type (rule, workflow, approval_role, approval_override)"
// @Param        entity_id    query     string  false  "Entity ID"
// @Param        page         query     int     false  "Page number (default 1)"
// @Param        limit        query     int     false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Paginated}
// @Router       /audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)

	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(),
		c.Query("entity_type"), c.Query("entity_id"), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessList(http.StatusOK, logs, total, p.Page, p.Limit))
}
