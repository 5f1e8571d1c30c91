package repository

import (
	"context"

	"procurement/internal/model"

	"gorm.io/gorm"
)

// AuditRepository appends immutable audit entries and lists them
// chronologically. There is no update or delete path on purpose.
type AuditRepository interface {
	Append(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, entityType, entityID string, page, limit int) ([]model.AuditLog, int64, error)
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, entityType, entityID string, page, limit int) ([]model.AuditLog, int64, error) {
	var logs []model.AuditLog
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.AuditLog{})
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if entityID != "" {
		query = query.Where("entity_id = ?", entityID)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Preload("User")
	if entityType != "" {
		fetch = fetch.Where("entity_type = ?", entityType)
	}
	if entityID != "" {
		fetch = fetch.Where("entity_id = ?", entityID)
	}
	if err := fetch.Order("created_at desc").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
