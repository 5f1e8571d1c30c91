package handler

import (
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/service"
	"procurement/pkg/pagination"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type WorkflowHandler struct {
	workflowService service.WorkflowService
}

func NewWorkflowHandler(workflowService service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowService: workflowService}
}

// RegisterRoutes binds the workflow endpoints to the gin RouterGroup
func (h *WorkflowHandler) RegisterRoutes(router *gin.RouterGroup) {
	workflows := router.Group("/workflows")
	workflows.Use(middleware.RequireRole("admin", "manager", "staff"))
	{
		workflows.POST("", h.InitiateWorkflow)
		workflows.GET("", h.ListWorkflows)
		workflows.GET("/pending", h.ListPendingApprovals)
		workflows.GET("/:id", h.GetWorkflow)
		workflows.GET("/:id/can-approve", h.CanApprove)
		workflows.POST("/:id/approve", h.ApproveStep)
		workflows.POST("/:id/reject", h.RejectWorkflow)
	}
}

// InitiateWorkflow handles POST /workflows
// @Summary      Initiate an approval workflow
// @Description  Matches the document against the approval matrix and either auto-approves it or creates a workflow with one action per approver step
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.InitiateWorkflowRequest  true  "Document to submit"
// @Success      201      {object}  response.Response{data=service.InitiateResult}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /workflows [post]
func (h *WorkflowHandler) InitiateWorkflow(c *gin.Context) {
	var req service.InitiateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	req.InitiatedBy = actorID(c)

	result, err := h.workflowService.InitiateWorkflow(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if result.AutoApproved {
		status = http.StatusOK
	}
	c.JSON(status, response.Success(status, result))
}

// ListWorkflows handles GET /workflows
// @Summary      List workflows
// @Description  Retrieves a paginated list of workflows filtered by status and category
// @Tags         workflows
// @Produce      json
// @Security     BearerAuth
// @Param        status    query     string  false  "PENDING, APPROVED or REJECTED"
// @Param        category  query     string  false  "Approval category"
// @Param        page      query     int     false  "Page number (default 1)"
// @Param        limit     query     int     false  "Items per page (default 20)"
// @Success      200       {object}  response.Response{data=response.Paginated}
// @Failure      500       {object}  response.Response
// @Router       /workflows [get]
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	p := pagination.Parse(c)
	filter := service.WorkflowFilter{
		Status:   c.Query("status"),
		Category: c.Query("category"),
		Page:     p.Page,
		Limit:    p.Limit,
	}

	workflows, total, err := h.workflowService.ListWorkflows(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessList(http.StatusOK, workflows, total, p.Page, p.Limit))
}

// ListPendingApprovals handles GET /workflows/pending
// @Summary      List pending approvals for the caller
// @Description  Returns pending workflows whose current step the authenticated user may resolve
// @Tags         workflows
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Paginated}
// @Failure      500    {object}  response.Response
// @Router       /workflows/pending [get]
func (h *WorkflowHandler) ListPendingApprovals(c *gin.Context) {
	p := pagination.Parse(c)

	workflows, total, err := h.workflowService.ListPendingForActor(c.Request.Context(), actorID(c), p.Page, p.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.SuccessList(http.StatusOK, workflows, total, p.Page, p.Limit))
}

// GetWorkflow handles GET /workflows/:id
// @Summary      Get workflow by ID
// @Description  Fetches one workflow with its full step history
// @Tags         workflows
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {object}  response.Response{data=service.WorkflowResponse}
// @Failure      404  {object}  response.Response
// @Router       /workflows/{id} [get]
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	wf, err := h.workflowService.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, wf))
}

// CanApprove handles GET /workflows/:id/can-approve
// @Summary      Check approval authorization
// @Description  Reports whether the authenticated user may resolve the workflow's current step, with a reason when denied
// @Tags         workflows
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Workflow ID"
// @Success      200  {object}  response.Response{data=service.CanApproveResult}
// @Failure      404  {object}  response.Response
// @Router       /workflows/{id}/can-approve [get]
func (h *WorkflowHandler) CanApprove(c *gin.Context) {
	result, err := h.workflowService.CanApprove(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

type stepActionBody struct {
	ActionID string `json:"action_id"`
	Comments string `json:"comments"`
}

// ApproveStep handles POST /workflows/:id/approve
// @Summary      Approve the current step
// @Description  Records the caller's approval on the pending step and advances or completes the workflow
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string          true   "Workflow ID"
// @Param        payload  body      stepActionBody  false  "Optional action id and comments"
// @Success      200      {object}  response.Response{data=service.StepResult}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /workflows/{id}/approve [post]
func (h *WorkflowHandler) ApproveStep(c *gin.Context) {
	var body stepActionBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
			return
		}
	}

	result, err := h.workflowService.ApproveStep(c.Request.Context(), service.StepActionRequest{
		WorkflowID: c.Param("id"),
		ActionID:   body.ActionID,
		ActorID:    actorID(c),
		Comments:   body.Comments,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectWorkflow handles POST /workflows/:id/reject
// @Summary      Reject the workflow
// @Description  Records the caller's rejection with a mandatory reason and terminates the workflow
// @Tags         workflows
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string          true  "Workflow ID"
// @Param        payload  body      stepActionBody  true  "Action id and rejection reason"
// @Success      200      {object}  response.Response{data=service.StepResult}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /workflows/{id}/reject [post]
func (h *WorkflowHandler) RejectWorkflow(c *gin.Context) {
	var body stepActionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload"))
		return
	}

	result, err := h.workflowService.RejectWorkflow(c.Request.Context(), service.StepActionRequest{
		WorkflowID: c.Param("id"),
		ActionID:   body.ActionID,
		ActorID:    actorID(c),
		Comments:   body.Comments,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
