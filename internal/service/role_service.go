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
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type SaveRoleRequest struct {
	Code           string `json:"code" binding:"required"`
	Name           string `json:"name" binding:"required"`
	HierarchyLevel int    `json:"hierarchy_level"`
	IsActive       *bool  `json:"is_active"`
}

type RoleResponse struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	HierarchyLevel int    `json:"hierarchy_level"`
	IsActive       bool   `json:"is_active"`
}

type AssignApproverRequest struct {
	UserID string `json:"user_id" binding:"required"`
	RoleID string `json:"role_id"` // taken from the route path when empty
}

type AssignmentResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	RoleID   string `json:"role_id"`
}

// RoleService manages approval roles and which users hold them.
type RoleService interface {
	CreateRole(ctx context.Context, req SaveRoleRequest, actorID string) (*RoleResponse, error)
	UpdateRole(ctx context.Context, id string, req SaveRoleRequest, actorID string) (*RoleResponse, error)
	GetRole(ctx context.Context, id string) (*RoleResponse, error)
	ListRoles(ctx context.Context, activeOnly bool) ([]RoleResponse, error)

	AssignApprover(ctx context.Context, req AssignApproverRequest, actorID string) (*AssignmentResponse, error)
	RevokeApprover(ctx context.Context, userID, roleID string, actorID string) error
	ListApprovers(ctx context.Context, roleID string) ([]AssignmentResponse, error)
}

type roleService struct {
	roles repository.RoleRepository
	users repository.UserRepository
	audit repository.AuditRepository
	tx    repository.TransactionManager
	log   zerolog.Logger
}

func NewRoleService(roles repository.RoleRepository, users repository.UserRepository, audit repository.AuditRepository, tx repository.TransactionManager, log zerolog.Logger) RoleService {
	return &roleService{roles: roles, users: users, audit: audit, tx: tx, log: log}
}

func (s *roleService) CreateRole(ctx context.Context, req SaveRoleRequest, actorID string) (*RoleResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, apperr.InvalidInput("code", "role code is required")
	}

	if _, err := s.roles.FindByCode(ctx, code); err == nil {
		return nil, apperr.New(apperr.CodeConflict, "a role with this code already exists")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to check role code")
	}

	role := &model.ApprovalRole{
		Code:           code,
		Name:           req.Name,
		HierarchyLevel: req.HierarchyLevel,
		IsActive:       true,
	}
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roles.Create(txCtx, role); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create role")
		}
		return s.auditRole(txCtx, model.ActionCreateRole, role, "", actorID)
	})
	if err != nil {
		return nil, err
	}

	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) UpdateRole(ctx context.Context, id string, req SaveRoleRequest, actorID string) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.InvalidInput("id", "invalid uuid")
	}

	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("approval role", id)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load role")
	}

	// Code is the role's identity; renames would silently repoint every
	// rule approver and assignment that references it.
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code != "" && code != role.Code {
		return nil, apperr.InvalidInput("code", "role code cannot be changed")
	}

	oldJSON, _ := json.Marshal(role)
	role.Name = req.Name
	role.HierarchyLevel = req.HierarchyLevel
	if req.IsActive != nil {
		role.IsActive = *req.IsActive
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roles.Update(txCtx, role); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update role")
		}
		return s.auditRole(txCtx, model.ActionUpdateRole, role, string(oldJSON), actorID)
	})
	if err != nil {
		return nil, err
	}

	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) GetRole(ctx context.Context, id string) (*RoleResponse, error) {
	roleID, err := uuid.Parse(id)
	if err != nil {
		return nil, apperr.InvalidInput("id", "invalid uuid")
	}
	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("approval role", id)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load role")
	}
	resp := toRoleResponse(*role)
	return &resp, nil
}

func (s *roleService) ListRoles(ctx context.Context, activeOnly bool) ([]RoleResponse, error) {
	roles, err := s.roles.List(ctx, activeOnly)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list roles")
	}
	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) AssignApprover(ctx context.Context, req AssignApproverRequest, actorID string) (*AssignmentResponse, error) {
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperr.InvalidInput("user_id", "invalid uuid")
	}
	roleID, err := uuid.Parse(req.RoleID)
	if err != nil {
		return nil, apperr.InvalidInput("role_id", "invalid uuid")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user", req.UserID)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load user")
	}
	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("approval role", req.RoleID)
		}
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to load role")
	}

	assignment := &model.ApproverAssignment{UserID: userID, RoleID: roleID, IsActive: true}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roles.Assign(txCtx, assignment); err != nil {
			return apperr.Wrap(err, apperr.CodeConflict, "user is already assigned to this role")
		}
		details, _ := json.Marshal(map[string]string{
			"user_id": userID.String(), "username": user.Username, "role_code": role.Code})
		return s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionAssignApprover,
			EntityType: "approval_role",
			EntityID:   roleID.String(),
			EntityName: role.Code,
			NewValues:  string(details),
		}, actorID)
	})
	if err != nil {
		return nil, err
	}

	return &AssignmentResponse{
		ID:       assignment.ID.String(),
		UserID:   userID.String(),
		Username: user.Username,
		RoleID:   roleID.String(),
	}, nil
}

func (s *roleService) RevokeApprover(ctx context.Context, userIDStr, roleIDStr string, actorID string) error {
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return apperr.InvalidInput("user_id", "invalid uuid")
	}
	roleID, err := uuid.Parse(roleIDStr)
	if err != nil {
		return apperr.InvalidInput("role_id", "invalid uuid")
	}

	role, err := s.roles.FindByID(ctx, roleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("approval role", roleIDStr)
		}
		return apperr.Wrap(err, apperr.CodeInternal, "failed to load role")
	}

	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roles.Revoke(txCtx, userID, roleID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to revoke assignment")
		}
		details, _ := json.Marshal(map[string]string{
			"user_id": userID.String(), "role_code": role.Code})
		return s.appendAudit(txCtx, model.AuditLog{
			Action:     model.ActionRevokeApprover,
			EntityType: "approval_role",
			EntityID:   roleID.String(),
			EntityName: role.Code,
			OldValues:  string(details),
		}, actorID)
	})
}

func (s *roleService) ListApprovers(ctx context.Context, roleIDStr string) ([]AssignmentResponse, error) {
	roleID, err := uuid.Parse(roleIDStr)
	if err != nil {
		return nil, apperr.InvalidInput("role_id", "invalid uuid")
	}
	assignments, err := s.roles.ListAssignmentsForRole(ctx, roleID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list approvers")
	}
	res := make([]AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		ar := AssignmentResponse{
			ID:     a.ID.String(),
			UserID: a.UserID.String(),
			RoleID: a.RoleID.String(),
		}
		if a.User != nil {
			ar.Username = a.User.Username
		}
		res = append(res, ar)
	}
	return res, nil
}

func (s *roleService) auditRole(ctx context.Context, action string, role *model.ApprovalRole, oldJSON, actorID string) error {
	newJSON, _ := json.Marshal(role)
	return s.appendAudit(ctx, model.AuditLog{
		Action:     action,
		EntityType: "approval_role",
		EntityID:   role.ID.String(),
		EntityName: role.Code,
		OldValues:  oldJSON,
		NewValues:  string(newJSON),
	}, actorID)
}

func (s *roleService) appendAudit(ctx context.Context, entry model.AuditLog, actorID string) error {
	entry.UserID = parseActor(actorID)
	if err := s.audit.Append(ctx, &entry); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to write audit log")
	}
	return nil
}

func toRoleResponse(r model.ApprovalRole) RoleResponse {
	return RoleResponse{
		ID:             r.ID.String(),
		Code:           r.Code,
		Name:           r.Name,
		HierarchyLevel: r.HierarchyLevel,
		IsActive:       r.IsActive,
	}
}
