package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/pkg/apperr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// --- DTOs ---

type RuleApproverDTO struct {
	SequenceOrder int    `json:"sequence_order" binding:"required,min=1"`
	RoleID        string `json:"role_id" binding:"required"`
	IsMandatory   *bool  `json:"is_mandatory"`
	CanDelegate   bool   `json:"can_delegate"`
}

type SaveRuleRequest struct {
	Category           string            `json:"category" binding:"required,oneof=purchase_request purchase_order contracts capex payments float_cash"`
	MinAmount          string            `json:"min_amount" binding:"required"` // decimal string
	MaxAmount          string            `json:"max_amount"`                    // empty = unbounded
	Currency           string            `json:"currency"`
	DepartmentID       string            `json:"department_id"` // empty = all departments
	RequiresSequential bool              `json:"requires_sequential"`
	AutoApproveBelow   string            `json:"auto_approve_below"`
	EscalationHours    int               `json:"escalation_hours"`
	IsActive           *bool             `json:"is_active"`
	Approvers          []RuleApproverDTO `json:"approvers"`
}

type RuleResponse struct {
	ID                 string                 `json:"id"`
	Category           string                 `json:"category"`
	MinAmount          string                 `json:"min_amount"`
	MaxAmount          *string                `json:"max_amount"`
	Currency           string                 `json:"currency"`
	DepartmentID       *string                `json:"department_id"`
	RequiresSequential bool                   `json:"requires_sequential"`
	AutoApproveBelow   *string                `json:"auto_approve_below"`
	EscalationHours    int                    `json:"escalation_hours"`
	IsActive           bool                   `json:"is_active"`
	Version            int                    `json:"version"`
	Approvers          []RuleApproverResponse `json:"approvers"`
	CreatedAt          string                 `json:"created_at"`
}

type RuleApproverResponse struct {
	ID            string `json:"id"`
	SequenceOrder int    `json:"sequence_order"`
	RoleID        string `json:"role_id"`
	RoleCode      string `json:"role_code,omitempty"`
	IsMandatory   bool   `json:"is_mandatory"`
	CanDelegate   bool   `json:"can_delegate"`
}

type SnapshotResponse struct {
	ID        string `json:"id"`
	RuleID    string `json:"rule_id"`
	Version   int    `json:"version"`
	Snapshot  string `json:"snapshot"`
	CreatedAt string `json:"created_at"`
}

// --- Interface ---

// RuleService owns the approval matrix: rule CRUD with versioning and the
// matcher that picks the single applicable rule for a document.
type RuleService interface {
	MatchRule(ctx context.Context, category string, amount decimal.Decimal, currency string, departmentID *uuid.UUID) (*model.ApprovalRule, error)
	GetRule(ctx context.Context, id string) (*RuleResponse, error)
	ListRules(ctx context.Context, category string, page, limit int) ([]RuleResponse, int64, error)
	CreateRule(ctx context.Context, req SaveRuleRequest, actorID string) (*RuleResponse, error)
	UpdateRule(ctx context.Context, id string, req SaveRuleRequest, actorID string) (*RuleResponse, error)
	DeleteRule(ctx context.Context, id string, actorID string) error
	ListSnapshots(ctx context.Context, ruleID string) ([]SnapshotResponse, error)
}

type ruleService struct {
	rules     repository.RuleRepository
	workflows repository.WorkflowRepository
	audit     repository.AuditRepository
	tx        repository.TransactionManager
	log       zerolog.Logger
}

func NewRuleService(
	rules repository.RuleRepository,
	workflows repository.WorkflowRepository,
	audit repository.AuditRepository,
	tx repository.TransactionManager,
	log zerolog.Logger,
) RuleService {
	return &ruleService{rules: rules, workflows: workflows, audit: audit, tx: tx, log: log}
}

// --- Matcher ---

// MatchRule selects the single active rule covering the amount, or nil when
// no rule applies (auto-approve). Department-specific rules win over
// organization-wide ones; remaining ties resolve to the lowest min_amount in
// stable order and are logged as a configuration problem.
// Categories are an open set here: a category no rule governs simply
// matches nothing.
func (s *ruleService) MatchRule(ctx context.Context, category string, amount decimal.Decimal, currency string, departmentID *uuid.UUID) (*model.ApprovalRule, error) {
	if category == "" {
		return nil, apperr.InvalidInput("category", "category is required")
	}
	if amount.IsNegative() {
		return nil, apperr.InvalidInput("amount", "amount must not be negative")
	}
	if currency == "" {
		currency = "USD"
	}

	rules, err := s.rules.GetActiveRules(ctx, category)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load approval rules")
	}

	var deptMatches, globalMatches []model.ApprovalRule
	for _, rule := range rules {
		if rule.Currency != currency {
			continue
		}
		if amount.LessThan(rule.MinAmount) {
			continue
		}
		if rule.MaxAmount != nil && amount.GreaterThanOrEqual(*rule.MaxAmount) {
			continue
		}
		switch {
		case rule.DepartmentID == nil:
			globalMatches = append(globalMatches, rule)
		case departmentID != nil && *rule.DepartmentID == *departmentID:
			deptMatches = append(deptMatches, rule)
		}
	}

	candidates := deptMatches
	if len(candidates) == 0 {
		candidates = globalMatches
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	// Candidates arrive pre-sorted (min_amount, created_at, id) so the first
	// one is the deterministic winner; more than one is a misconfigured matrix.
	if len(candidates) > 1 {
		s.log.Warn().
			Str("category", category).
			Str("amount", amount.String()).
			Str("winner", candidates[0].ID.String()).
			Int("tied", len(candidates)).
			Msg("ambiguous approval rule configuration, applying deterministic tie-break")
	}

	winner := candidates[0]
	return &winner, nil
}

// --- CRUD ---

func (s *ruleService) GetRule(ctx context.Context, id string) (*RuleResponse, error) {
	ruleID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.InvalidInput("id", "invalid rule id")
	}

	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("approval rule", id)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to fetch rule")
	}

	resp := toRuleResponse(*rule)
	return &resp, nil
}

func (s *ruleService) ListRules(ctx context.Context, category string, page, limit int) ([]RuleResponse, int64, error) {
	rules, total, err := s.rules.List(ctx, category, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list rules")
	}

	res := make([]RuleResponse, 0, len(rules))
	for _, r := range rules {
		res = append(res, toRuleResponse(r))
	}
	return res, total, nil
}

func (s *ruleService) CreateRule(ctx context.Context, req SaveRuleRequest, actorID string) (*RuleResponse, error) {
	rule, approvers, err := parseRuleRequest(req)
	if err != nil {
		return nil, err
	}
	rule.Version = 1

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.rules.Create(txCtx, rule); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create rule")
		}
		if err := s.rules.ReplaceApprovers(txCtx, rule.ID, approvers); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to save rule approvers")
		}
		if err := s.snapshotMatrix(txCtx, rule.ID, actorID); err != nil {
			return err
		}
		return s.auditRule(txCtx, model.ActionCreateRule, rule, nil, actorID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetRule(ctx, rule.ID.String())
}

func (s *ruleService) UpdateRule(ctx context.Context, id string, req SaveRuleRequest, actorID string) (*RuleResponse, error) {
	ruleID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.InvalidInput("id", "invalid rule id")
	}

	updated, approvers, err := parseRuleRequest(req)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		existing, err := s.rules.FindByID(txCtx, ruleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("approval rule", id)
			}
			return apperr.Wrap(err, apperr.CodeInternal, "failed to fetch rule")
		}

		oldJSON, _ := json.Marshal(existing)

		existing.Category = updated.Category
		existing.MinAmount = updated.MinAmount
		existing.MaxAmount = updated.MaxAmount
		existing.Currency = updated.Currency
		existing.DepartmentID = updated.DepartmentID
		existing.RequiresSequential = updated.RequiresSequential
		existing.AutoApproveBelow = updated.AutoApproveBelow
		existing.EscalationHours = updated.EscalationHours
		existing.IsActive = updated.IsActive
		existing.Version++
		existing.Approvers = nil

		if err := s.rules.Update(txCtx, existing); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update rule")
		}
		if err := s.rules.ReplaceApprovers(txCtx, ruleID, approvers); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to save rule approvers")
		}
		if err := s.snapshotMatrix(txCtx, ruleID, actorID); err != nil {
			return err
		}
		return s.auditRule(txCtx, model.ActionUpdateRule, existing, oldJSON, actorID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetRule(ctx, id)
}

// DeleteRule refuses to drop a rule that still has non-terminal workflows;
// those workflows pinned the rule id at instantiation and must stay traceable.
func (s *ruleService) DeleteRule(ctx context.Context, id string, actorID string) error {
	ruleID, err := uuid.Parse(id)
	if err != nil {
		return apperr.InvalidInput("id", "invalid rule id")
	}

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		rule, err := s.rules.FindByID(txCtx, ruleID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("approval rule", id)
			}
			return apperr.Wrap(err, apperr.CodeInternal, "failed to fetch rule")
		}

		active, err := s.workflows.CountActiveByRule(txCtx, ruleID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to count workflows for rule")
		}
		if active > 0 {
			return apperr.Newf(apperr.CodeConflict,
				"rule has %d pending workflow(s) and cannot be deleted", active)
		}

		if err := s.rules.Delete(txCtx, ruleID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to delete rule")
		}
		oldJSON, _ := json.Marshal(rule)
		return s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionDeleteRule,
			EntityType: "rule",
			EntityID:   id,
			EntityName: rule.Category,
			OldValues:  string(oldJSON),
		}, actorID)
	})
}

func (s *ruleService) ListSnapshots(ctx context.Context, ruleID string) ([]SnapshotResponse, error) {
	id, err := uuid.Parse(ruleID)
	if err != nil {
		return nil, apperr.InvalidInput("rule_id", "invalid rule id")
	}

	snaps, err := s.rules.ListSnapshots(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list snapshots")
	}

	res := make([]SnapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		res = append(res, SnapshotResponse{
			ID:        snap.ID.String(),
			RuleID:    snap.RuleID.String(),
			Version:   snap.Version,
			Snapshot:  snap.Snapshot,
			CreatedAt: snap.CreatedAt.Format(time.RFC3339),
		})
	}
	return res, nil
}

// --- Helpers ---

func parseRuleRequest(req SaveRuleRequest) (*model.ApprovalRule, []model.RuleApprover, error) {
	if !model.ValidCategory(req.Category) {
		return nil, nil, apperr.InvalidInput("category", fmt.Sprintf("unknown approval category '%s'", req.Category))
	}
	minAmount, err := decimal.NewFromString(req.MinAmount)
	if err != nil {
		return nil, nil, apperr.InvalidInput("min_amount", "invalid decimal value")
	}
	if minAmount.IsNegative() {
		return nil, nil, apperr.InvalidInput("min_amount", "must not be negative")
	}

	var maxAmount *decimal.Decimal
	if req.MaxAmount != "" {
		parsed, err := decimal.NewFromString(req.MaxAmount)
		if err != nil {
			return nil, nil, apperr.InvalidInput("max_amount", "invalid decimal value")
		}
		if parsed.LessThanOrEqual(minAmount) {
			return nil, nil, apperr.InvalidInput("max_amount", "must be greater than min_amount")
		}
		maxAmount = &parsed
	}

	var autoApproveBelow *decimal.Decimal
	if req.AutoApproveBelow != "" {
		parsed, err := decimal.NewFromString(req.AutoApproveBelow)
		if err != nil {
			return nil, nil, apperr.InvalidInput("auto_approve_below", "invalid decimal value")
		}
		autoApproveBelow = &parsed
	}

	var departmentID *uuid.UUID
	if req.DepartmentID != "" {
		parsed, err := uuid.Parse(req.DepartmentID)
		if err != nil {
			return nil, nil, apperr.InvalidInput("department_id", "invalid uuid")
		}
		departmentID = &parsed
	}

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}

	escalation := req.EscalationHours
	if escalation <= 0 {
		escalation = 48
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	// Approver sequence must be 1-based, unique and contiguous so that
	// current_level advancement has a well-defined next step.
	approvers := make([]model.RuleApprover, 0, len(req.Approvers))
	seen := make(map[int]bool, len(req.Approvers))
	for _, a := range req.Approvers {
		roleID, err := uuid.Parse(a.RoleID)
		if err != nil {
			return nil, nil, apperr.InvalidInput("approvers.role_id", "invalid uuid")
		}
		if seen[a.SequenceOrder] {
			return nil, nil, apperr.InvalidInput("approvers.sequence_order",
				fmt.Sprintf("duplicate sequence_order %d", a.SequenceOrder))
		}
		seen[a.SequenceOrder] = true

		mandatory := true
		if a.IsMandatory != nil {
			mandatory = *a.IsMandatory
		}
		approvers = append(approvers, model.RuleApprover{
			SequenceOrder: a.SequenceOrder,
			RoleID:        roleID,
			IsMandatory:   mandatory,
			CanDelegate:   a.CanDelegate,
		})
	}
	for i := 1; i <= len(approvers); i++ {
		if !seen[i] {
			return nil, nil, apperr.InvalidInput("approvers.sequence_order",
				fmt.Sprintf("sequence must be contiguous starting at 1, missing %d", i))
		}
	}

	rule := &model.ApprovalRule{
		Category:           req.Category,
		MinAmount:          minAmount,
		MaxAmount:          maxAmount,
		Currency:           currency,
		DepartmentID:       departmentID,
		RequiresSequential: req.RequiresSequential,
		AutoApproveBelow:   autoApproveBelow,
		EscalationHours:    escalation,
		IsActive:           isActive,
	}
	return rule, approvers, nil
}

// snapshotMatrix stores the full rule + approver state as JSON for audit and
// rollback of matrix changes.
func (s *ruleService) snapshotMatrix(ctx context.Context, ruleID uuid.UUID, actorID string) error {
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to reload rule for snapshot")
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to encode matrix snapshot")
	}

	snap := &model.MatrixSnapshot{
		RuleID:   ruleID,
		Version:  rule.Version,
		Snapshot: string(data),
	}
	if actor := parseActor(actorID); actor != nil {
		snap.CreatedBy = actor
	}
	if err := s.rules.SaveSnapshot(ctx, snap); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to save matrix snapshot")
	}
	return nil
}

func (s *ruleService) auditRule(ctx context.Context, action string, rule *model.ApprovalRule, oldJSON []byte, actorID string) error {
	newJSON, _ := json.Marshal(rule)
	return s.appendAudit(ctx, model.AuditLog{
		Action:     action,
		EntityType: "rule",
		EntityID:   rule.ID.String(),
		EntityName: fmt.Sprintf("%s v%d", rule.Category, rule.Version),
		OldValues:  string(oldJSON),
		NewValues:  string(newJSON),
	}, actorID)
}

func (s *ruleService) appendAudit(ctx context.Context, entry model.AuditLog, actorID string) error {
	entry.UserID = parseActor(actorID)
	if err := s.audit.Append(ctx, &entry); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to write audit log")
	}
	return nil
}

func parseActor(actorID string) *uuid.UUID {
	if actorID == "" {
		return nil
	}
	parsed, err := uuid.Parse(actorID)
	if err != nil {
		return nil
	}
	return &parsed
}

func toRuleResponse(r model.ApprovalRule) RuleResponse {
	resp := RuleResponse{
		ID:                 r.ID.String(),
		Category:           r.Category,
		MinAmount:          r.MinAmount.String(),
		Currency:           r.Currency,
		RequiresSequential: r.RequiresSequential,
		EscalationHours:    r.EscalationHours,
		IsActive:           r.IsActive,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt.Format(time.RFC3339),
	}
	if r.MaxAmount != nil {
		v := r.MaxAmount.String()
		resp.MaxAmount = &v
	}
	if r.AutoApproveBelow != nil {
		v := r.AutoApproveBelow.String()
		resp.AutoApproveBelow = &v
	}
	if r.DepartmentID != nil {
		v := r.DepartmentID.String()
		resp.DepartmentID = &v
	}
	resp.Approvers = make([]RuleApproverResponse, 0, len(r.Approvers))
	for _, a := range r.Approvers {
		ar := RuleApproverResponse{
			ID:            a.ID.String(),
			SequenceOrder: a.SequenceOrder,
			RoleID:        a.RoleID.String(),
			IsMandatory:   a.IsMandatory,
			CanDelegate:   a.CanDelegate,
		}
		if a.Role != nil {
			ar.RoleCode = a.Role.Code
		}
		resp.Approvers = append(resp.Approvers, ar)
	}
	return resp
}
