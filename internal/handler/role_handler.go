package handler

import (
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/service"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type RoleHandler struct {
	roleService service.RoleService
}

func NewRoleHandler(roleService service.RoleService) *RoleHandler {
	return &RoleHandler{roleService: roleService}
}

// RegisterRoutes binds the approval role endpoints to the gin RouterGroup
func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/approval-roles")
	{
		roles.GET("", middleware.RequireRole("admin", "manager", "staff"), h.ListRoles)
		roles.GET("/:id", middleware.RequireRole("admin", "manager", "staff"), h.GetRole)
		roles.POST("", middleware.RequireRole("admin"), h.CreateRole)
		roles.PUT("/:id", middleware.RequireRole("admin"), h.UpdateRole)

		roles.GET("/:id/approvers", middleware.RequireRole("admin", "manager"), h.ListApprovers)
		roles.POST("/:id/approvers", middleware.RequireRole("admin"), h.AssignApprover)
		roles.DELETE("/:id/approvers/:userId", middleware.RequireRole("admin"), h.RevokeApprover)
	}
}

// ListRoles handles GET /approval-roles
// @Summary      List approval roles
// @Description  Retrieves approval roles ordered by hierarchy level
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        active  query     bool  false  "Only active roles"
// @Success      200     {object}  response.Response{data=[]service.RoleResponse}
// @Failure      500     {object}  response.Response
// @Router       /approval-roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	activeOnly := c.Query("active") == "true"

	roles, err := h.roleService.ListRoles(c.Request.Context(), activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// GetRole handles GET /approval-roles/:id
// @Summary      Get approval role by ID
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=service.RoleResponse}
// @Failure      404  {object}  response.Response
// @Router       /approval-roles/{id} [get]
func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roleService.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// CreateRole handles POST /approval-roles
// @Summary      Create approval role
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.SaveRoleRequest  true  "Role definition"
// @Success      201      {object}  response.Response{data=service.RoleResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /approval-roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.SaveRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.roleService.CreateRole(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole handles PUT /approval-roles/:id
// @Summary      Update approval role
// @Description  Updates descriptive fields. The role code is immutable.
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                   true  "Role ID"
// @Param        payload  body      service.SaveRoleRequest  true  "Role fields"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /approval-roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req service.SaveRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	role, err := h.roleService.UpdateRole(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// ListApprovers handles GET /approval-roles/:id/approvers
// @Summary      List approvers for a role
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response{data=[]service.AssignmentResponse}
// @Failure      400  {object}  response.Response
// @Router       /approval-roles/{id}/approvers [get]
func (h *RoleHandler) ListApprovers(c *gin.Context) {
	approvers, err := h.roleService.ListApprovers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, approvers))
}

// AssignApprover handles POST /approval-roles/:id/approvers
// @Summary      Assign a user as approver
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                         true  "Role ID"
// @Param        payload  body      service.AssignApproverRequest  true  "User to assign"
// @Success      201      {object}  response.Response{data=service.AssignmentResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /approval-roles/{id}/approvers [post]
func (h *RoleHandler) AssignApprover(c *gin.Context) {
	var req service.AssignApproverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	req.RoleID = c.Param("id")

	assignment, err := h.roleService.AssignApprover(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, assignment))
}

// RevokeApprover handles DELETE /approval-roles/:id/approvers/:userId
// @Summary      Revoke an approver assignment
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id      path      string  true  "Role ID"
// @Param        userId  path      string  true  "User ID"
// @Success      200     {object}  response.Response
// @Failure      404     {object}  response.Response
// @Router       /approval-roles/{id}/approvers/{userId} [delete]
func (h *RoleHandler) RevokeApprover(c *gin.Context) {
	if err := h.roleService.RevokeApprover(c.Request.Context(), c.Param("userId"), c.Param("id"), actorID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Approver revoked successfully"))
}
