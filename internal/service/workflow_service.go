package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement/internal/dispatch"
	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SequentialPolicy controls how strictly step ordering is enforced for rules
// with requires_sequential set.
type SequentialPolicy int

const (
	// SequentialStrict forbids resolving a step above the current level.
	SequentialStrict SequentialPolicy = iota
	// SequentialAnyOrder lets any pending step resolve; ordering is advisory.
	SequentialAnyOrder
)

// ParseSequentialPolicy reads the policy from configuration, defaulting to strict.
func ParseSequentialPolicy(s string) SequentialPolicy {
	if strings.EqualFold(s, "any_order") {
		return SequentialAnyOrder
	}
	return SequentialStrict
}

// --- DTOs ---

type InitiateWorkflowRequest struct {
	ReferenceID   string `json:"reference_id" binding:"required"`
	ReferenceCode string `json:"reference_code" binding:"required"`
	Category      string `json:"category" binding:"required"`
	Amount        string `json:"amount" binding:"required"` // decimal string
	Currency      string `json:"currency"`
	DepartmentID  string `json:"department_id"`
	InitiatedBy   string `json:"-"` // set from verified identity, never from the body
}

type InitiateResult struct {
	AutoApproved bool    `json:"auto_approved"`
	WorkflowID   *string `json:"workflow_id,omitempty"`
	RuleID       *string `json:"rule_id,omitempty"`
	Reason       string  `json:"reason,omitempty"`
}

type StepActionRequest struct {
	WorkflowID string
	ActionID   string // optional; falls back to the pending action at current level
	ActorID    string
	Comments   string
}

type StepResult struct {
	Completed bool   `json:"completed"`
	Status    string `json:"status"`
	NextLevel *int   `json:"next_level,omitempty"`
}

type CanApproveResult struct {
	CanApprove bool    `json:"can_approve"`
	ActionID   *string `json:"action_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

type WorkflowFilter struct {
	Status   string
	Category string
	Page     int
	Limit    int
}

type WorkflowActionResponse struct {
	ID            string  `json:"id"`
	SequenceOrder int     `json:"sequence_order"`
	RoleID        string  `json:"role_id"`
	RoleCode      string  `json:"role_code,omitempty"`
	Status        string  `json:"status"`
	ApproverID    *string `json:"approver_id"`
	ApproverName  string  `json:"approver_name,omitempty"`
	ActedAt       *string `json:"acted_at"`
	Comments      string  `json:"comments"`
}

type WorkflowResponse struct {
	ID            string                   `json:"id"`
	ReferenceID   string                   `json:"reference_id"`
	ReferenceCode string                   `json:"reference_code"`
	Category      string                   `json:"category"`
	Amount        string                   `json:"amount"`
	Currency      string                   `json:"currency"`
	RuleID        *string                  `json:"rule_id"`
	Status        string                   `json:"status"`
	CurrentLevel  int                      `json:"current_level"`
	InitiatedBy   *string                  `json:"initiated_by"`
	InitiatorName string                   `json:"initiator_name,omitempty"`
	Actions       []WorkflowActionResponse `json:"actions"`
	CompletedAt   *string                  `json:"completed_at"`
	CreatedAt     string                   `json:"created_at"`
}

// --- Interface ---

// WorkflowService instantiates and advances approval workflows.
type WorkflowService interface {
	InitiateWorkflow(ctx context.Context, req InitiateWorkflowRequest) (*InitiateResult, error)
	ApproveStep(ctx context.Context, req StepActionRequest) (*StepResult, error)
	RejectWorkflow(ctx context.Context, req StepActionRequest) (*StepResult, error)
	CanApprove(ctx context.Context, workflowID, actorID string) (*CanApproveResult, error)
	GetWorkflow(ctx context.Context, id string) (*WorkflowResponse, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]WorkflowResponse, int64, error)
	ListPendingForActor(ctx context.Context, actorID string, page, limit int) ([]WorkflowResponse, int64, error)
}

// broadcaster is the slice of the websocket hub the engine needs.
type broadcaster interface {
	GetBroadcast() chan []byte
}

type workflowService struct {
	workflows  repository.WorkflowRepository
	rules      repository.RuleRepository
	overrides  repository.OverrideRepository
	roles      repository.RoleRepository
	users      repository.UserRepository
	audit      repository.AuditRepository
	tx         repository.TransactionManager
	matcher    RuleService
	dispatcher *dispatch.Registry
	hub        broadcaster // optional
	policy     SequentialPolicy
	log        zerolog.Logger
}

type WorkflowServiceDeps struct {
	Workflows  repository.WorkflowRepository
	Rules      repository.RuleRepository
	Overrides  repository.OverrideRepository
	Roles      repository.RoleRepository
	Users      repository.UserRepository
	Audit      repository.AuditRepository
	Tx         repository.TransactionManager
	Matcher    RuleService
	Dispatcher *dispatch.Registry
	Hub        interface{ GetBroadcast() chan []byte }
	Policy     SequentialPolicy
	Log        zerolog.Logger
}

func NewWorkflowService(deps WorkflowServiceDeps) WorkflowService {
	return &workflowService{
		workflows:  deps.Workflows,
		rules:      deps.Rules,
		overrides:  deps.Overrides,
		roles:      deps.Roles,
		users:      deps.Users,
		audit:      deps.Audit,
		tx:         deps.Tx,
		matcher:    deps.Matcher,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		policy:     deps.Policy,
		log:        deps.Log,
	}
}

// --- Instantiation ---

func (s *workflowService) InitiateWorkflow(ctx context.Context, req InitiateWorkflowRequest) (*InitiateResult, error) {
	refID, err := uuid.Parse(req.ReferenceID)
	if err != nil {
		return nil, apperr.InvalidInput("reference_id", "invalid uuid")
	}
	if req.Category == "" {
		return nil, apperr.InvalidInput("category", "category is required")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperr.InvalidInput("amount", "invalid decimal value")
	}
	if amount.IsNegative() {
		return nil, apperr.InvalidInput("amount", "amount must not be negative")
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	var departmentID *uuid.UUID
	if req.DepartmentID != "" {
		parsed, err := uuid.Parse(req.DepartmentID)
		if err != nil {
			return nil, apperr.InvalidInput("department_id", "invalid uuid")
		}
		departmentID = &parsed
	}

	var result *InitiateResult
	var completed *model.Workflow

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		// A document has at most one active workflow at a time. The
		// advisory lock serializes concurrent initiations for one
		// reference; without it two callers could both pass the duplicate
		// check before either inserts.
		if err := s.workflows.LockReference(txCtx, refID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to lock reference")
		}
		existing, err := s.workflows.FindActiveByReference(txCtx, refID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to check active workflows")
		}
		if existing != nil {
			return apperr.InvalidState(
				fmt.Sprintf("document %s already has a pending approval workflow", req.ReferenceCode))
		}

		// Overrides beat the matrix in both directions.
		override, err := s.overrides.FindActiveByReference(txCtx, refID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to look up override")
		}
		if override != nil && override.Mode == model.OverrideForceBypass {
			result = &InitiateResult{AutoApproved: true, Reason: "override: " + override.Reason}
			return s.auditAutoApprove(txCtx, req, nil, "forced bypass override")
		}

		rule, err := s.matcher.MatchRule(txCtx, req.Category, amount, currency, departmentID)
		if err != nil {
			return err
		}
		if rule == nil {
			result = &InitiateResult{AutoApproved: true, Reason: "no approval rule applies"}
			return s.auditAutoApprove(txCtx, req, nil, "no matching rule")
		}

		ruleIDStr := rule.ID.String()
		forceRequire := override != nil && override.Mode == model.OverrideForceRequire
		if !forceRequire && rule.AutoApproveBelow != nil && amount.LessThan(*rule.AutoApproveBelow) {
			result = &InitiateResult{AutoApproved: true, RuleID: &ruleIDStr,
				Reason: fmt.Sprintf("amount below auto-approve threshold %s", rule.AutoApproveBelow)}
			return s.auditAutoApprove(txCtx, req, rule, "below auto-approve threshold")
		}

		approvers, err := s.rules.GetApprovers(txCtx, rule.ID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to load rule approvers")
		}

		wf := &model.Workflow{
			ReferenceID:   refID,
			ReferenceCode: req.ReferenceCode,
			Category:      req.Category,
			Amount:        amount,
			Currency:      currency,
			RuleID:        &rule.ID,
			Status:        model.StatusPending,
			CurrentLevel:  1,
			InitiatedBy:   parseActor(req.InitiatedBy),
		}

		// Copy approver templates into action rows; later rule edits must
		// never touch this workflow.
		actions := make([]model.WorkflowAction, 0, len(approvers))
		for _, a := range approvers {
			actions = append(actions, model.WorkflowAction{
				RoleID:        a.RoleID,
				SequenceOrder: a.SequenceOrder,
				Status:        model.StatusPending,
				IsMandatory:   a.IsMandatory,
				CanDelegate:   a.CanDelegate,
			})
		}

		if len(actions) == 0 {
			// Empty pending set is immediately completable, not stuck.
			now := time.Now()
			wf.Status = model.StatusApproved
			wf.CompletedAt = &now
		}

		if err := s.workflows.Create(txCtx, wf, actions); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create workflow")
		}

		details, _ := json.Marshal(map[string]interface{}{
			"reference_code": req.ReferenceCode,
			"category":       req.Category,
			"amount":         amount.String(),
			"rule_id":        ruleIDStr,
			"rule_version":   rule.Version,
			"approver_count": len(actions),
		})
		if err := s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionWorkflowInitiated,
			EntityType: "workflow",
			EntityID:   wf.ID.String(),
			EntityName: req.ReferenceCode,
			NewValues:  string(details),
		}, req.InitiatedBy); err != nil {
			return err
		}

		if wf.Status == model.StatusApproved {
			if err := s.appendAudit(txCtx, model.AuditLog{
				Action:     model.ActionWorkflowApproved,
				EntityType: "workflow",
				EntityID:   wf.ID.String(),
				EntityName: req.ReferenceCode,
				NewValues:  `{"reason":"rule has no approver steps"}`,
			}, req.InitiatedBy); err != nil {
				return err
			}
			completed = wf
		}

		wfID := wf.ID.String()
		result = &InitiateResult{AutoApproved: false, WorkflowID: &wfID, RuleID: &ruleIDStr}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed != nil {
		s.dispatcher.Fire(completed)
	} else if result.WorkflowID != nil {
		s.notify("workflow_initiated", *result.WorkflowID, req.ReferenceCode, req.Category, model.StatusPending)
	}

	return result, nil
}

// --- Advancement ---

func (s *workflowService) ApproveStep(ctx context.Context, req StepActionRequest) (*StepResult, error) {
	var result *StepResult
	var completed *model.Workflow

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		wf, actions, target, err := s.loadForAction(txCtx, req, true)
		if err != nil {
			return err
		}

		actor := parseActor(req.ActorID)
		if actor == nil {
			return apperr.InvalidInput("actor", "invalid actor id")
		}

		now := time.Now()
		ok, err := s.workflows.ResolveAction(txCtx, target.ID, model.StatusApproved, *actor, now, req.Comments)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to resolve action")
		}
		if !ok {
			// Lost the compare-and-set: someone resolved it concurrently.
			return apperr.InvalidState("action is already resolved")
		}

		remaining := pendingLevels(actions, target.ID)
		details, _ := json.Marshal(map[string]interface{}{
			"sequence_order": target.SequenceOrder,
			"comments":       req.Comments,
		})
		if err := s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionStepApproved,
			EntityType: "workflow",
			EntityID:   wf.ID.String(),
			EntityName: wf.ReferenceCode,
			NewValues:  string(details),
		}, req.ActorID); err != nil {
			return err
		}

		if len(remaining) > 0 {
			// Supports pre-populated steps at several levels: next level is
			// the minimum unresolved sequence, not current_level + 1.
			next := remaining[0]
			wf.CurrentLevel = next
			if err := s.workflows.Update(txCtx, wf); err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to advance workflow")
			}
			result = &StepResult{Completed: false, Status: model.StatusPending, NextLevel: &next}
			return nil
		}

		wf.Status = model.StatusApproved
		wf.CompletedAt = &now
		if err := s.workflows.Update(txCtx, wf); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to complete workflow")
		}
		if err := s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionWorkflowApproved,
			EntityType: "workflow",
			EntityID:   wf.ID.String(),
			EntityName: wf.ReferenceCode,
		}, req.ActorID); err != nil {
			return err
		}

		completed = wf
		result = &StepResult{Completed: true, Status: model.StatusApproved}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if completed != nil {
		// Dispatch failures are logged and audited, never unwound into the
		// approval decision.
		s.dispatcher.Fire(completed)
	}

	return result, nil
}

func (s *workflowService) RejectWorkflow(ctx context.Context, req StepActionRequest) (*StepResult, error) {
	if strings.TrimSpace(req.Comments) == "" {
		return nil, apperr.InvalidInput("comments", "a rejection reason is required")
	}

	var result *StepResult
	var rejected *model.Workflow

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		wf, _, target, err := s.loadForAction(txCtx, req, false)
		if err != nil {
			return err
		}

		actor := parseActor(req.ActorID)
		if actor == nil {
			return apperr.InvalidInput("actor", "invalid actor id")
		}

		now := time.Now()
		ok, err := s.workflows.ResolveAction(txCtx, target.ID, model.StatusRejected, *actor, now, req.Comments)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to resolve action")
		}
		if !ok {
			return apperr.InvalidState("action is already resolved")
		}

		// Rejection at any step terminates the whole workflow.
		wf.Status = model.StatusRejected
		wf.CompletedAt = &now
		if err := s.workflows.Update(txCtx, wf); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to reject workflow")
		}

		details, _ := json.Marshal(map[string]interface{}{
			"sequence_order": target.SequenceOrder,
			"reason":         req.Comments,
		})
		if err := s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionStepRejected,
			EntityType: "workflow",
			EntityID:   wf.ID.String(),
			EntityName: wf.ReferenceCode,
			NewValues:  string(details),
		}, req.ActorID); err != nil {
			return err
		}
		if err := s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionWorkflowRejected,
			EntityType: "workflow",
			EntityID:   wf.ID.String(),
			EntityName: wf.ReferenceCode,
			NewValues:  string(details),
		}, req.ActorID); err != nil {
			return err
		}

		rejected = wf
		result = &StepResult{Completed: true, Status: model.StatusRejected}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if rejected != nil {
		s.notify("workflow_rejected", rejected.ID.String(), rejected.ReferenceCode, rejected.Category, model.StatusRejected)
	}

	return result, nil
}

// loadForAction locks the workflow, checks it is still pending, verifies the
// actor may act, and picks the action to resolve.
func (s *workflowService) loadForAction(ctx context.Context, req StepActionRequest, enforceOrder bool) (*model.Workflow, []model.WorkflowAction, *model.WorkflowAction, error) {
	wfID, err := uuid.Parse(req.WorkflowID)
	if err != nil {
		return nil, nil, nil, apperr.InvalidInput("workflow_id", "invalid uuid")
	}

	wf, err := s.workflows.FindByIDForUpdate(ctx, wfID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, apperr.NotFound("workflow", req.WorkflowID)
		}
		return nil, nil, nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load workflow")
	}
	if wf.IsTerminal() {
		return nil, nil, nil, apperr.InvalidState(
			fmt.Sprintf("workflow is already %s", strings.ToLower(wf.Status)))
	}

	actions, err := s.workflows.GetActions(ctx, wfID)
	if err != nil {
		return nil, nil, nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load workflow actions")
	}

	var target *model.WorkflowAction
	if req.ActionID != "" {
		actionID, err := uuid.Parse(req.ActionID)
		if err != nil {
			return nil, nil, nil, apperr.InvalidInput("action_id", "invalid uuid")
		}
		for i := range actions {
			if actions[i].ID == actionID {
				target = &actions[i]
				break
			}
		}
		if target == nil {
			return nil, nil, nil, apperr.NotFound("workflow action", req.ActionID)
		}
		if target.Status != model.StatusPending {
			return nil, nil, nil, apperr.InvalidState("action is already resolved")
		}
		if enforceOrder && target.SequenceOrder != wf.CurrentLevel && s.strictOrdering(ctx, wf) {
			return nil, nil, nil, apperr.InvalidState(
				fmt.Sprintf("step %d cannot be resolved before level %d", target.SequenceOrder, wf.CurrentLevel))
		}
	} else {
		// Fallback for clients that don't track action ids.
		for i := range actions {
			if actions[i].Status == model.StatusPending && actions[i].SequenceOrder == wf.CurrentLevel {
				target = &actions[i]
				break
			}
		}
		if target == nil {
			return nil, nil, nil, apperr.NotFound("pending action",
				fmt.Sprintf("level %d", wf.CurrentLevel))
		}
	}

	if err := s.assertCanAct(ctx, target, req.ActorID); err != nil {
		return nil, nil, nil, err
	}

	return wf, actions, target, nil
}

// strictOrdering reports whether out-of-order resolution is forbidden for
// this workflow under the configured policy.
func (s *workflowService) strictOrdering(ctx context.Context, wf *model.Workflow) bool {
	if s.policy == SequentialAnyOrder || wf.RuleID == nil {
		return false
	}
	rule, err := s.rules.FindByID(ctx, *wf.RuleID)
	if err != nil {
		// Rule rows are never deleted while workflows reference them; treat a
		// lookup failure as strict to stay on the safe side.
		s.log.Warn().Err(err).Str("rule_id", wf.RuleID.String()).Msg("failed to load rule for ordering check")
		return true
	}
	return rule.RequiresSequential
}

// assertCanAct grants elevated global roles unconditionally, otherwise
// requires an active approver assignment for the step's role. The role is
// always re-read from persisted state, never taken from the request.
func (s *workflowService) assertCanAct(ctx context.Context, action *model.WorkflowAction, actorID string) error {
	actor := parseActor(actorID)
	if actor == nil {
		return apperr.InvalidInput("actor", "invalid actor id")
	}

	user, err := s.users.GetByID(ctx, *actor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("user", actorID)
		}
		return apperr.Wrap(err, apperr.CodeInternal, "failed to load actor")
	}
	if user.IsElevated() {
		return nil
	}

	roleIDs, err := s.roles.ActiveRoleIDsForUser(ctx, *actor)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to load approver assignments")
	}
	for _, id := range roleIDs {
		if id == action.RoleID {
			return nil
		}
	}
	return apperr.New(apperr.CodeForbidden, "actor is not an approver for this step's role")
}

// --- Authorization query ---

func (s *workflowService) CanApprove(ctx context.Context, workflowID, actorID string) (*CanApproveResult, error) {
	wfID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, apperr.InvalidInput("workflow_id", "invalid uuid")
	}
	actor := parseActor(actorID)
	if actor == nil {
		return nil, apperr.InvalidInput("actor", "invalid actor id")
	}

	wf, err := s.workflows.FindByID(ctx, wfID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("workflow", workflowID)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load workflow")
	}

	if wf.IsTerminal() {
		return &CanApproveResult{CanApprove: false,
			Reason: fmt.Sprintf("workflow is already %s", strings.ToLower(wf.Status))}, nil
	}

	var current *model.WorkflowAction
	for i := range wf.Actions {
		if wf.Actions[i].Status == model.StatusPending && wf.Actions[i].SequenceOrder == wf.CurrentLevel {
			current = &wf.Actions[i]
			break
		}
	}
	if current == nil {
		return &CanApproveResult{CanApprove: false, Reason: "no pending action at the current level"}, nil
	}
	actionID := current.ID.String()

	user, err := s.users.GetByID(ctx, *actor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &CanApproveResult{CanApprove: false, Reason: "unknown user"}, nil
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load actor")
	}
	if user.IsElevated() {
		return &CanApproveResult{CanApprove: true, ActionID: &actionID}, nil
	}

	roleIDs, err := s.roles.ActiveRoleIDsForUser(ctx, *actor)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load approver assignments")
	}
	for _, id := range roleIDs {
		if id == current.RoleID {
			return &CanApproveResult{CanApprove: true, ActionID: &actionID}, nil
		}
	}

	roleLabel := current.RoleID.String()
	if current.Role != nil {
		roleLabel = current.Role.Code
	}
	return &CanApproveResult{CanApprove: false,
		Reason: fmt.Sprintf("approval requires role %s", roleLabel)}, nil
}

// --- Queries ---

func (s *workflowService) GetWorkflow(ctx context.Context, id string) (*WorkflowResponse, error) {
	wfID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.InvalidInput("workflow_id", "invalid uuid")
	}
	wf, err := s.workflows.FindByID(ctx, wfID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("workflow", id)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load workflow")
	}
	resp := toWorkflowResponse(*wf)
	return &resp, nil
}

func (s *workflowService) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]WorkflowResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	workflows, total, err := s.workflows.List(ctx, filter.Status, filter.Category, filter.Page, filter.Limit)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list workflows")
	}

	res := make([]WorkflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		res = append(res, toWorkflowResponse(wf))
	}
	return res, total, nil
}

// ListPendingForActor returns the actor's approval inbox: pending workflows
// whose current step the actor may resolve.
func (s *workflowService) ListPendingForActor(ctx context.Context, actorID string, page, limit int) ([]WorkflowResponse, int64, error) {
	actor := parseActor(actorID)
	if actor == nil {
		return nil, 0, apperr.InvalidInput("actor", "invalid actor id")
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	user, err := s.users.GetByID(ctx, *actor)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, apperr.NotFound("user", actorID)
		}
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to load actor")
	}

	var workflows []model.Workflow
	var total int64
	if user.IsElevated() {
		workflows, total, err = s.workflows.List(ctx, model.StatusPending, "", page, limit)
	} else {
		var roleIDs []uuid.UUID
		roleIDs, err = s.roles.ActiveRoleIDsForUser(ctx, *actor)
		if err == nil {
			workflows, total, err = s.workflows.ListPendingForRoles(ctx, roleIDs, page, limit)
		}
	}
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list pending workflows")
	}

	res := make([]WorkflowResponse, 0, len(workflows))
	for _, wf := range workflows {
		res = append(res, toWorkflowResponse(wf))
	}
	return res, total, nil
}

// --- Helpers ---

// pendingLevels returns the ordered distinct sequence levels still pending,
// excluding the action just resolved.
func pendingLevels(actions []model.WorkflowAction, resolvedID uuid.UUID) []int {
	seen := make(map[int]bool)
	var levels []int
	for _, a := range actions {
		if a.ID == resolvedID || a.Status != model.StatusPending {
			continue
		}
		if !seen[a.SequenceOrder] {
			seen[a.SequenceOrder] = true
			levels = append(levels, a.SequenceOrder)
		}
	}
	// Actions arrive ordered by sequence_order, so levels is already sorted.
	return levels
}

func (s *workflowService) auditAutoApprove(ctx context.Context, req InitiateWorkflowRequest, rule *model.ApprovalRule, reason string) error {
	details := map[string]interface{}{
		"reference_id":   req.ReferenceID,
		"reference_code": req.ReferenceCode,
		"category":       req.Category,
		"amount":         req.Amount,
		"reason":         reason,
	}
	if rule != nil {
		details["rule_id"] = rule.ID.String()
		details["rule_version"] = rule.Version
	}
	payload, _ := json.Marshal(details)
	return s.appendAudit(ctx, model.AuditLog{
		Action:     model.ActionWorkflowAutoApproved,
		EntityType: "workflow",
		EntityID:   req.ReferenceID,
		EntityName: req.ReferenceCode,
		NewValues:  string(payload),
	}, req.InitiatedBy)
}

func (s *workflowService) appendAudit(ctx context.Context, entry model.AuditLog, actorID string) error {
	entry.UserID = parseActor(actorID)
	if err := s.audit.Append(ctx, &entry); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to write audit log")
	}
	return nil
}

// notify pushes a workflow event to the websocket hub without ever blocking
// the request path.
func (s *workflowService) notify(event, workflowID, referenceCode, category, status string) {
	if s.hub == nil {
		return
	}
	msg, err := json.Marshal(map[string]string{
		"event":          event,
		"workflow_id":    workflowID,
		"reference_code": referenceCode,
		"category":       category,
		"status":         status,
	})
	if err != nil {
		return
	}
	select {
	case s.hub.GetBroadcast() <- msg:
	default:
	}
}

func toWorkflowResponse(wf model.Workflow) WorkflowResponse {
	resp := WorkflowResponse{
		ID:            wf.ID.String(),
		ReferenceID:   wf.ReferenceID.String(),
		ReferenceCode: wf.ReferenceCode,
		Category:      wf.Category,
		Amount:        wf.Amount.String(),
		Currency:      wf.Currency,
		Status:        wf.Status,
		CurrentLevel:  wf.CurrentLevel,
		CreatedAt:     wf.CreatedAt.Format(time.RFC3339),
	}
	if wf.RuleID != nil {
		v := wf.RuleID.String()
		resp.RuleID = &v
	}
	if wf.InitiatedBy != nil {
		v := wf.InitiatedBy.String()
		resp.InitiatedBy = &v
	}
	if wf.Initiator != nil {
		resp.InitiatorName = wf.Initiator.Username
	}
	if wf.CompletedAt != nil {
		v := wf.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}
	resp.Actions = make([]WorkflowActionResponse, 0, len(wf.Actions))
	for _, a := range wf.Actions {
		ar := WorkflowActionResponse{
			ID:            a.ID.String(),
			SequenceOrder: a.SequenceOrder,
			RoleID:        a.RoleID.String(),
			Status:        a.Status,
			Comments:      a.Comments,
		}
		if a.Role != nil {
			ar.RoleCode = a.Role.Code
		}
		if a.ApproverID != nil {
			v := a.ApproverID.String()
			ar.ApproverID = &v
		}
		if a.Approver != nil {
			ar.ApproverName = a.Approver.Username
		}
		if a.ActedAt != nil {
			v := a.ActedAt.Format(time.RFC3339)
			ar.ActedAt = &v
		}
		resp.Actions = append(resp.Actions, ar)
	}
	return resp
}
