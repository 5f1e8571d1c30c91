package repository

import (
	"context"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RoleRepository manages approval roles and approver assignments.
type RoleRepository interface {
	Create(ctx context.Context, role *model.ApprovalRole) error
	Update(ctx context.Context, role *model.ApprovalRole) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRole, error)
	FindByCode(ctx context.Context, code string) (*model.ApprovalRole, error)
	List(ctx context.Context, activeOnly bool) ([]model.ApprovalRole, error)

	Assign(ctx context.Context, assignment *model.ApproverAssignment) error
	Revoke(ctx context.Context, userID, roleID uuid.UUID) error
	ListAssignmentsForRole(ctx context.Context, roleID uuid.UUID) ([]model.ApproverAssignment, error)
	// ActiveRoleIDsForUser returns the roles a user may approve for, skipping
	// inactive assignments and inactive roles.
	ActiveRoleIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) Create(ctx context.Context, role *model.ApprovalRole) error {
	return GetDB(ctx, r.db).Create(role).Error
}

func (r *roleRepository) Update(ctx context.Context, role *model.ApprovalRole) error {
	return GetDB(ctx, r.db).Save(role).Error
}

func (r *roleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRole, error) {
	var role model.ApprovalRole
	if err := GetDB(ctx, r.db).First(&role, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) FindByCode(ctx context.Context, code string) (*model.ApprovalRole, error) {
	var role model.ApprovalRole
	if err := GetDB(ctx, r.db).First(&role, "code = ?", code).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) List(ctx context.Context, activeOnly bool) ([]model.ApprovalRole, error) {
	var roles []model.ApprovalRole
	query := GetDB(ctx, r.db).Order("hierarchy_level ASC, code ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *roleRepository) Assign(ctx context.Context, assignment *model.ApproverAssignment) error {
	return GetDB(ctx, r.db).Create(assignment).Error
}

func (r *roleRepository) Revoke(ctx context.Context, userID, roleID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Model(&model.ApproverAssignment{}).
		Where("user_id = ? AND role_id = ?", userID, roleID).
		Update("is_active", false).Error
}

func (r *roleRepository) ListAssignmentsForRole(ctx context.Context, roleID uuid.UUID) ([]model.ApproverAssignment, error) {
	var assignments []model.ApproverAssignment
	err := GetDB(ctx, r.db).
		Preload("User").
		Where("role_id = ? AND is_active = ?", roleID, true).
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

func (r *roleRepository) ActiveRoleIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := GetDB(ctx, r.db).
		Model(&model.ApproverAssignment{}).
		Joins("JOIN approval_roles ar ON ar.id = approver_assignments.role_id").
		Where("approver_assignments.user_id = ?", userID).
		Where("approver_assignments.is_active = ? AND ar.is_active = ?", true, true).
		Pluck("approver_assignments.role_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
