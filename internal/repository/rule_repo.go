package repository

import (
	"context"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RuleRepository is the data access contract for the approval matrix.
type RuleRepository interface {
	Create(ctx context.Context, rule *model.ApprovalRule) error
	Update(ctx context.Context, rule *model.ApprovalRule) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRule, error)
	List(ctx context.Context, category string, page, limit int) ([]model.ApprovalRule, int64, error)
	GetActiveRules(ctx context.Context, category string) ([]model.ApprovalRule, error)
	GetApprovers(ctx context.Context, ruleID uuid.UUID) ([]model.RuleApprover, error)
	ReplaceApprovers(ctx context.Context, ruleID uuid.UUID, approvers []model.RuleApprover) error
	SaveSnapshot(ctx context.Context, snap *model.MatrixSnapshot) error
	ListSnapshots(ctx context.Context, ruleID uuid.UUID) ([]model.MatrixSnapshot, error)
}

type ruleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) Create(ctx context.Context, rule *model.ApprovalRule) error {
	return GetDB(ctx, r.db).Create(rule).Error
}

func (r *ruleRepository) Update(ctx context.Context, rule *model.ApprovalRule) error {
	return GetDB(ctx, r.db).Save(rule).Error
}

func (r *ruleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("rule_id = ?", id).Delete(&model.RuleApprover{}).Error; err != nil {
		return err
	}
	return db.Delete(&model.ApprovalRule{}, "id = ?", id).Error
}

func (r *ruleRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalRule, error) {
	var rule model.ApprovalRule
	err := GetDB(ctx, r.db).
		Preload("Approvers", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_order ASC")
		}).
		Preload("Approvers.Role").
		First(&rule, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *ruleRepository) List(ctx context.Context, category string, page, limit int) ([]model.ApprovalRule, int64, error) {
	var rules []model.ApprovalRule
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.ApprovalRule{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Preload("Approvers", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_order ASC")
	}).Preload("Approvers.Role").Preload("Department")
	if category != "" {
		fetch = fetch.Where("category = ?", category)
	}
	if err := fetch.Order("category ASC, min_amount ASC").
		Offset(offset).Limit(limit).Find(&rules).Error; err != nil {
		return nil, 0, err
	}

	return rules, total, nil
}

// GetActiveRules returns active rules for a category in deterministic order
// (lowest min_amount first, then creation order) so tie-breaks are stable.
func (r *ruleRepository) GetActiveRules(ctx context.Context, category string) ([]model.ApprovalRule, error) {
	var rules []model.ApprovalRule
	err := GetDB(ctx, r.db).
		Where("category = ? AND is_active = ?", category, true).
		Order("min_amount ASC, created_at ASC, id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (r *ruleRepository) GetApprovers(ctx context.Context, ruleID uuid.UUID) ([]model.RuleApprover, error) {
	var approvers []model.RuleApprover
	err := GetDB(ctx, r.db).
		Preload("Role").
		Where("rule_id = ?", ruleID).
		Order("sequence_order ASC").
		Find(&approvers).Error
	if err != nil {
		return nil, err
	}
	return approvers, nil
}

func (r *ruleRepository) ReplaceApprovers(ctx context.Context, ruleID uuid.UUID, approvers []model.RuleApprover) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("rule_id = ?", ruleID).Delete(&model.RuleApprover{}).Error; err != nil {
		return err
	}
	if len(approvers) == 0 {
		return nil
	}
	for i := range approvers {
		approvers[i].RuleID = ruleID
	}
	return db.Create(&approvers).Error
}

func (r *ruleRepository) SaveSnapshot(ctx context.Context, snap *model.MatrixSnapshot) error {
	return GetDB(ctx, r.db).Create(snap).Error
}

func (r *ruleRepository) ListSnapshots(ctx context.Context, ruleID uuid.UUID) ([]model.MatrixSnapshot, error) {
	var snaps []model.MatrixSnapshot
	err := GetDB(ctx, r.db).
		Where("rule_id = ?", ruleID).
		Order("version DESC").
		Find(&snaps).Error
	if err != nil {
		return nil, err
	}
	return snaps, nil
}
