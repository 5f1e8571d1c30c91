package handler

import (
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/service"
	"procurement/pkg/pagination"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type RuleHandler struct {
	ruleService service.RuleService
}

func NewRuleHandler(ruleService service.RuleService) *RuleHandler {
	return &RuleHandler{ruleService: ruleService}
}

// RegisterRoutes binds the approval matrix endpoints to the gin RouterGroup.
// Reading the matrix is open to all authenticated users; mutations are admin only.
func (h *RuleHandler) RegisterRoutes(router *gin.RouterGroup) {
	rules := router.Group("/rules")
	{
		rules.GET("", middleware.RequireRole("admin", "manager", "staff"), h.ListRules)
		rules.GET("/:id", middleware.RequireRole("admin", "manager", "staff"), h.GetRule)
		rules.POST("", middleware.RequireRole("admin"), h.CreateRule)
		rules.PUT("/:id", middleware.RequireRole("admin"), h.UpdateRule)
		rules.DELETE("/:id", middleware.RequireRole("admin"), h.DeleteRule)
		rules.GET("/:id/snapshots", middleware.RequireRole("admin"), h.ListSnapshots)
	}
}

// ListRules handles GET /rules
// @Summary      List approval rules
// @Description  Retrieves a paginated list of approval rules, optionally filtered by category
// @Tags         rules
// @Produce      json
// @Security     BearerAuth
// @Param        category  query     string  false  "Approval category"
// @Param        page      query     int     false  "Page number (default 1)"
// @Param        limit     query     int     false  "Items per page (default 20)"
// @Success      200       {object}  response.Response{data=response.Paginated}
// @Failure      500       {object}  response.Response
// @Router       /rules [get]
func (h *RuleHandler) ListRules(c *gin.Context) {
	p := pagination.Parse(c)

	rules, total, err := h.ruleService.ListRules(c.Request.Context(), c.Query("category"), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessList(http.StatusOK, rules, total, p.Page, p.Limit))
}

// GetRule handles GET /rules/:id
// @Summary      Get rule by ID
// @Description  Fetches one approval rule including its ordered approver steps
// @Tags         rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  response.Response{data=service.RuleResponse}
// @Failure      404  {object}  response.Response
// @Router       /rules/{id} [get]
func (h *RuleHandler) GetRule(c *gin.Context) {
	rule, err := h.ruleService.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}

// CreateRule handles POST /rules
// @Summary      Create approval rule
// @Description  Creates a new approval rule with its approver steps and records a matrix snapshot
// @Tags         rules
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.SaveRuleRequest  true  "Rule definition"
// @Success      201      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Router       /rules [post]
func (h *RuleHandler) CreateRule(c *gin.Context) {
	var req service.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	rule, err := h.ruleService.CreateRule(c.Request.Context(), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, rule))
}

// UpdateRule handles PUT /rules/:id
// @Summary      Update approval rule
// @Description  Replaces the rule definition and approver steps, bumping the rule version. In-flight workflows keep their copied steps.
// @Tags         rules
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                   true  "Rule ID"
// @Param        payload  body      service.SaveRuleRequest  true  "Rule definition"
// @Success      200      {object}  response.Response{data=service.RuleResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Router       /rules/{id} [put]
func (h *RuleHandler) UpdateRule(c *gin.Context) {
	var req service.SaveRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	rule, err := h.ruleService.UpdateRule(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rule))
}

// DeleteRule handles DELETE /rules/:id
// @Summary      Delete approval rule
// @Description  Deletes a rule. Refused while any pending workflow references it.
// @Tags         rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /rules/{id} [delete]
func (h *RuleHandler) DeleteRule(c *gin.Context) {
	if err := h.ruleService.DeleteRule(c.Request.Context(), c.Param("id"), actorID(c)); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Rule deleted successfully"))
}

// ListSnapshots handles GET /rules/:id/snapshots
// @Summary      List matrix snapshots
// @Description  Returns the versioned configuration snapshots recorded on every change to the rule
// @Tags         rules
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Rule ID"
// @Success      200  {object}  response.Response{data=[]service.SnapshotResponse}
// @Failure      400  {object}  response.Response
// @Router       /rules/{id}/snapshots [get]
func (h *RuleHandler) ListSnapshots(c *gin.Context) {
	snaps, err := h.ruleService.ListSnapshots(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, snaps))
}
