package repository

import (
	"context"
	"time"

	"procurement/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkflowRepository is the data access contract for workflow instances and
// their step actions.
type WorkflowRepository interface {
	// Create persists the workflow and all its actions as one unit. Callers
	// wrap it in a transaction so a workflow can never exist without the
	// action rows its rule requires.
	Create(ctx context.Context, wf *model.Workflow, actions []model.WorkflowAction) error
	// LockReference takes a transaction-scoped advisory lock on the
	// reference so concurrent initiations for one document serialize. Must
	// be called inside a transaction; the lock releases at commit/rollback.
	LockReference(ctx context.Context, referenceID uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
	// FindByIDForUpdate loads the workflow row under a FOR UPDATE lock so
	// concurrent advancement of the same workflow serializes.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
	FindActiveByReference(ctx context.Context, referenceID uuid.UUID) (*model.Workflow, error)
	GetActions(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error)
	// ResolveAction flips one PENDING action to a terminal status. Returns
	// false when the action was already resolved (compare-and-set lost).
	ResolveAction(ctx context.Context, actionID uuid.UUID, status string, approverID uuid.UUID, actedAt time.Time, comments string) (bool, error)
	Update(ctx context.Context, wf *model.Workflow) error
	List(ctx context.Context, status, category string, page, limit int) ([]model.Workflow, int64, error)
	// ListPendingForRoles returns pending workflows whose current-level action
	// requires one of the given roles.
	ListPendingForRoles(ctx context.Context, roleIDs []uuid.UUID, page, limit int) ([]model.Workflow, int64, error)
	CountActiveByRule(ctx context.Context, ruleID uuid.UUID) (int64, error)
}

type workflowRepository struct {
	db *gorm.DB
}

func NewWorkflowRepository(db *gorm.DB) WorkflowRepository {
	return &workflowRepository{db: db}
}

func (r *workflowRepository) Create(ctx context.Context, wf *model.Workflow, actions []model.WorkflowAction) error {
	db := GetDB(ctx, r.db)
	if err := db.Create(wf).Error; err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	for i := range actions {
		actions[i].WorkflowID = wf.ID
	}
	return db.Create(&actions).Error
}

func (r *workflowRepository) LockReference(ctx context.Context, referenceID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Exec("SELECT pg_advisory_xact_lock(hashtext(?))", referenceID.String()).Error
}

func (r *workflowRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	var wf model.Workflow
	err := GetDB(ctx, r.db).
		Preload("Actions", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_order ASC")
		}).
		Preload("Actions.Role").
		Preload("Actions.Approver").
		Preload("Initiator").
		First(&wf, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *workflowRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	var wf model.Workflow
	err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&wf, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *workflowRepository) FindActiveByReference(ctx context.Context, referenceID uuid.UUID) (*model.Workflow, error) {
	var wf model.Workflow
	err := GetDB(ctx, r.db).
		Where("reference_id = ? AND status = ?", referenceID, model.StatusPending).
		First(&wf).Error
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

func (r *workflowRepository) GetActions(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowAction, error) {
	var actions []model.WorkflowAction
	err := GetDB(ctx, r.db).
		Where("workflow_id = ?", workflowID).
		Order("sequence_order ASC, created_at ASC").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *workflowRepository) ResolveAction(ctx context.Context, actionID uuid.UUID, status string, approverID uuid.UUID, actedAt time.Time, comments string) (bool, error) {
	res := GetDB(ctx, r.db).
		Model(&model.WorkflowAction{}).
		Where("id = ? AND status = ?", actionID, model.StatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"approver_id": approverID,
			"acted_at":    actedAt,
			"comments":    comments,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *workflowRepository) Update(ctx context.Context, wf *model.Workflow) error {
	return GetDB(ctx, r.db).Save(wf).Error
}

func (r *workflowRepository) List(ctx context.Context, status, category string, page, limit int) ([]model.Workflow, int64, error) {
	var workflows []model.Workflow
	var total int64

	db := GetDB(ctx, r.db)
	query := db.Model(&model.Workflow{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	fetch := db.Preload("Actions", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_order ASC")
	}).Preload("Actions.Role").Preload("Initiator")
	if status != "" {
		fetch = fetch.Where("status = ?", status)
	}
	if category != "" {
		fetch = fetch.Where("category = ?", category)
	}
	if err := fetch.Order("created_at DESC").Offset(offset).Limit(limit).Find(&workflows).Error; err != nil {
		return nil, 0, err
	}

	return workflows, total, nil
}

func (r *workflowRepository) ListPendingForRoles(ctx context.Context, roleIDs []uuid.UUID, page, limit int) ([]model.Workflow, int64, error) {
	if len(roleIDs) == 0 {
		return []model.Workflow{}, 0, nil
	}

	db := GetDB(ctx, r.db)
	currentStep := func(q *gorm.DB) *gorm.DB {
		return q.Model(&model.Workflow{}).
			Joins("JOIN workflow_actions wa ON wa.workflow_id = workflows.id AND wa.sequence_order = workflows.current_level").
			Where("workflows.status = ?", model.StatusPending).
			Where("wa.status = ?", model.StatusPending).
			Where("wa.role_id IN ?", roleIDs)
	}

	var total int64
	if err := currentStep(db).Distinct("workflows.id").Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ids []uuid.UUID
	offset := (page - 1) * limit
	if err := currentStep(db).Distinct().
		Order("workflows.id").
		Offset(offset).Limit(limit).
		Pluck("workflows.id", &ids).Error; err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return []model.Workflow{}, total, nil
	}

	var workflows []model.Workflow
	err := db.Preload("Actions", func(db *gorm.DB) *gorm.DB {
		return db.Order("sequence_order ASC")
	}).Preload("Actions.Role").
		Where("id IN ?", ids).
		Order("created_at DESC").
		Find(&workflows).Error
	if err != nil {
		return nil, 0, err
	}

	return workflows, total, nil
}

func (r *workflowRepository) CountActiveByRule(ctx context.Context, ruleID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).
		Model(&model.Workflow{}).
		Where("rule_id = ? AND status = ?", ruleID, model.StatusPending).
		Count(&count).Error
	return count, err
}
