package handler

import (
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/service"
	"procurement/pkg/pagination"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type OverrideHandler struct {
	overrideService service.OverrideService
}

func NewOverrideHandler(overrideService service.OverrideService) *OverrideHandler {
	return &OverrideHandler{overrideService: overrideService}
}

// RegisterRoutes binds the override endpoints to the gin RouterGroup.
// Overrides bypass the approval matrix, so every route is admin only.
func (h *OverrideHandler) RegisterRoutes(router *gin.RouterGroup) {
	overrides := router.Group("/overrides")
	overrides.Use(middleware.RequireRole("admin"))
	{
		overrides.GET("", h.ListOverrides)
		overrides.POST("", h.CreateOverride)
		overrides.DELETE("/:id", h.DeactivateOverride)
	}
}

// ListOverrides handles GET /overrides
// @Summary      List approval overrides
// @Tags         overrides
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Paginated}
// @Failure      500    {object}  response.Response
// @Router       /overrides [get]
func (h *OverrideHandler) ListOverrides(c *gin.Context) {
	p := pagination.Parse(c)

	overrides, total, err := h.overrideService.ListOverrides(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessList(http.StatusOK, overrides, total, p.Page, p.Limit))
}

// CreateOverride handles POST /overrides
// @Summary      Create approval override
// @Description  Forces a document to bypass approval or to require it regardless of the matrix. Takes effect at workflow instantiation.
// @Tags         overrides
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateOverrideRequest  true  "Override definition"
// @Success      201      {object}  response.Response{data=service.OverrideResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /overrides [post]
func (h *OverrideHandler) CreateOverride(c *gin.Context) {
	var req service.CreateOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	override, err := h.overrideService.CreateOverride(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, override))
}

// DeactivateOverride handles DELETE /overrides/:id
// @Summary      Deactivate approval override
// @Tags         overrides
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Override ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /overrides/{id} [delete]
func (h *OverrideHandler) DeactivateOverride(c *gin.Context) {
	if err := h.overrideService.DeactivateOverride(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Override deactivated"))
}
