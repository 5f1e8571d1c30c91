package repository

import (
	"context"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OverrideRepository looks up per-document approval exceptions.
type OverrideRepository interface {
	Create(ctx context.Context, override *model.ApprovalOverride) error
	Update(ctx context.Context, override *model.ApprovalOverride) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalOverride, error)
	// FindActiveByReference returns nil, nil when no active override exists.
	FindActiveByReference(ctx context.Context, referenceID uuid.UUID) (*model.ApprovalOverride, error)
	List(ctx context.Context, page, limit int) ([]model.ApprovalOverride, int64, error)
}

type overrideRepository struct {
	db *gorm.DB
}

func NewOverrideRepository(db *gorm.DB) OverrideRepository {
	return &overrideRepository{db: db}
}

func (r *overrideRepository) Create(ctx context.Context, override *model.ApprovalOverride) error {
	return GetDB(ctx, r.db).Create(override).Error
}

func (r *overrideRepository) Update(ctx context.Context, override *model.ApprovalOverride) error {
	return GetDB(ctx, r.db).Save(override).Error
}

func (r *overrideRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ApprovalOverride, error) {
	var override model.ApprovalOverride
	if err := GetDB(ctx, r.db).First(&override, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &override, nil
}

func (r *overrideRepository) FindActiveByReference(ctx context.Context, referenceID uuid.UUID) (*model.ApprovalOverride, error) {
	var override model.ApprovalOverride
	err := GetDB(ctx, r.db).
		Where("reference_id = ? AND is_active = ?", referenceID, true).
		Order("created_at DESC").
		First(&override).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &override, nil
}

func (r *overrideRepository) List(ctx context.Context, page, limit int) ([]model.ApprovalOverride, int64, error) {
	var overrides []model.ApprovalOverride
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.ApprovalOverride{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&overrides).Error; err != nil {
		return nil, 0, err
	}

	return overrides, total, nil
}
