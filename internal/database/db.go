package database

import (
	"log"

	"procurement/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewConnection initializes a new connection pool using GORM
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate core models
	err = db.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.Department{},
		&model.ApprovalRole{},
		&model.ApproverAssignment{},
		&model.ApprovalRule{},
		&model.RuleApprover{},
		&model.MatrixSnapshot{},
		&model.Workflow{},
		&model.WorkflowAction{},
		&model.ApprovalOverride{},
		&model.AuditLog{},
	)
	if err != nil {
		log.Println("WARNING: Failed to auto-migrate models:", err)
	}

	// Backstop for the one-active-workflow-per-document invariant; the
	// advisory lock in the initiate path serializes the normal case.
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_workflows_pending_reference
		ON workflows (reference_id) WHERE status = 'PENDING'`).Error
	if err != nil {
		log.Println("WARNING: Failed to create pending-reference index:", err)
	}

	return db, nil
}
