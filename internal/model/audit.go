package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Approval matrix actions
	ActionCreateRule     = "CREATE_APPROVAL_RULE"
	ActionUpdateRule     = "UPDATE_APPROVAL_RULE"
	ActionDeleteRule     = "DELETE_APPROVAL_RULE"
	ActionCreateRole     = "CREATE_APPROVAL_ROLE"
	ActionUpdateRole     = "UPDATE_APPROVAL_ROLE"
	ActionAssignApprover = "ASSIGN_APPROVER"
	ActionRevokeApprover = "REVOKE_APPROVER"
	ActionCreateOverride = "CREATE_OVERRIDE"
	ActionUpdateOverride = "UPDATE_OVERRIDE"

	// Workflow lifecycle actions
	ActionWorkflowInitiated    = "WORKFLOW_INITIATED"
	ActionWorkflowAutoApproved = "WORKFLOW_AUTO_APPROVED"
	ActionStepApproved         = "STEP_APPROVED"
	ActionStepRejected         = "STEP_REJECTED"
	ActionWorkflowApproved     = "WORKFLOW_APPROVED"
	ActionWorkflowRejected     = "WORKFLOW_REJECTED"
	ActionDispatchFailed       = "DISPATCH_FAILED"
)

// AuditLog tracks Who, What, and When for every rule and workflow mutation.
// Rows are append-only, never updated or deleted.
type AuditLog struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // Nullable for system-driven entries
	User       *User      `gorm:"foreignKey:UserID" json:"user"`
	Action     string     `gorm:"type:varchar(50);not null;index" json:"action"`
	EntityType string     `gorm:"type:varchar(30);not null;index" json:"entity_type"` // rule, workflow, role, override
	EntityID   string     `gorm:"type:varchar(50);index" json:"entity_id"`
	EntityName string     `gorm:"type:varchar(255)" json:"entity_name,omitempty"` // Human readable label
	OldValues  string     `gorm:"type:jsonb" json:"old_values"`
	NewValues  string     `gorm:"type:jsonb" json:"new_values"`
	CreatedAt  time.Time  `gorm:"index" json:"created_at"`
}
