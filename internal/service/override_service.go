package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CreateOverrideRequest struct {
	ReferenceID string `json:"reference_id" binding:"required"`
	Mode        string `json:"mode" binding:"required,oneof=FORCE_BYPASS FORCE_REQUIRE"`
	Reason      string `json:"reason" binding:"required"`
}

type OverrideResponse struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	Mode        string `json:"mode"`
	Reason      string `json:"reason"`
	IsActive    bool   `json:"is_active"`
	CreatedBy   string `json:"created_by,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// OverrideService manages per-document approval exceptions. An active
// override beats the matrix at instantiation time.
type OverrideService interface {
	CreateOverride(ctx context.Context, req CreateOverrideRequest, actorID string) (*OverrideResponse, error)
	DeactivateOverride(ctx context.Context, id string, actorID string) error
	ListOverrides(ctx context.Context, page, limit int) ([]OverrideResponse, int64, error)
}

type overrideService struct {
	overrides repository.OverrideRepository
	audit     repository.AuditRepository
	tx        repository.TransactionManager
}

func NewOverrideService(overrides repository.OverrideRepository, audit repository.AuditRepository, tx repository.TransactionManager) OverrideService {
	return &overrideService{overrides: overrides, audit: audit, tx: tx}
}

func (s *overrideService) CreateOverride(ctx context.Context, req CreateOverrideRequest, actorID string) (*OverrideResponse, error) {
	refID, err := uuid.Parse(req.ReferenceID)
	if err != nil {
		return nil, apperr.InvalidInput("reference_id", "invalid uuid")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, apperr.InvalidInput("reason", "an override reason is required")
	}

	existing, err := s.overrides.FindActiveByReference(ctx, refID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to check overrides")
	}
	if existing != nil {
		return nil, apperr.New(apperr.CodeConflict, "an active override already exists for this document")
	}

	override := &model.ApprovalOverride{
		ReferenceID: refID,
		Mode:        req.Mode,
		Reason:      req.Reason,
		IsActive:    true,
		CreatedBy:   parseActor(actorID),
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.overrides.Create(txCtx, override); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create override")
		}
		details, _ := json.Marshal(override)
		return s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionCreateOverride,
			EntityType: "approval_override",
			EntityID:   override.ID.String(),
			EntityName: req.ReferenceID,
			NewValues:  string(details),
		}, actorID)
	})
	if err != nil {
		return nil, err
	}

	resp := toOverrideResponse(*override)
	return &resp, nil
}

func (s *overrideService) DeactivateOverride(ctx context.Context, id string, actorID string) error {
	overrideID, err := uuid.Parse(id)
	if err != nil {
		return apperr.InvalidInput("id", "invalid uuid")
	}

	override, err := s.overrides.FindByID(ctx, overrideID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("override", id)
		}
		return apperr.Wrap(err, apperr.CodeInternal, "failed to load override")
	}
	if !override.IsActive {
		return apperr.InvalidState("override is already inactive")
	}

	oldJSON, _ := json.Marshal(override)
	override.IsActive = false

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.overrides.Update(txCtx, override); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update override")
		}
		newJSON, _ := json.Marshal(override)
		return s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionUpdateOverride,
			EntityType: "approval_override",
			EntityID:   override.ID.String(),
			EntityName: override.ReferenceID.String(),
			OldValues:  string(oldJSON),
			NewValues:  string(newJSON),
		}, actorID)
	})
}

func (s *overrideService) ListOverrides(ctx context.Context, page, limit int) ([]OverrideResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	overrides, total, err := s.overrides.List(ctx, page, limit)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list overrides")
	}
	res := make([]OverrideResponse, 0, len(overrides))
	for _, o := range overrides {
		res = append(res, toOverrideResponse(o))
	}
	return res, total, nil
}

func (s *overrideService) appendAudit(ctx context.Context, entry model.AuditLog, actorID string) error {
	entry.UserID = parseActor(actorID)
	if err := s.audit.Append(ctx, &entry); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to write audit log")
	}
	return nil
}

func toOverrideResponse(o model.ApprovalOverride) OverrideResponse {
	resp := OverrideResponse{
		ID:          o.ID.String(),
		ReferenceID: o.ReferenceID.String(),
		Mode:        o.Mode,
		Reason:      o.Reason,
		IsActive:    o.IsActive,
		CreatedAt:   o.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if o.CreatedBy != nil {
		resp.CreatedBy = o.CreatedBy.String()
	}
	return resp
}
