package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Workflow / action status enum constants
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// Workflow is one instantiated approval run for exactly one document.
// At most one non-terminal workflow may exist per reference at a time.
// Approver steps are copied from the rule at instantiation, so later rule
// edits never alter an in-flight workflow.
type Workflow struct {
	ID            uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReferenceID   uuid.UUID        `gorm:"type:uuid;not null;index" json:"reference_id"`
	ReferenceCode string           `gorm:"type:varchar(50);not null;index" json:"reference_code"`
	Category      string           `gorm:"type:varchar(30);not null;index" json:"category"`
	Amount        decimal.Decimal  `gorm:"type:decimal(18,4);not null" json:"amount"`
	Currency      string           `gorm:"type:varchar(3);not null" json:"currency"`
	RuleID        *uuid.UUID       `gorm:"type:uuid;index" json:"rule_id"` // nil when auto-approved with no rule
	Rule          *ApprovalRule    `gorm:"foreignKey:RuleID" json:"rule,omitempty"`
	Status        string           `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CurrentLevel  int              `gorm:"not null;default:1" json:"current_level"`
	InitiatedBy   *uuid.UUID       `gorm:"type:uuid" json:"initiated_by"`
	Initiator     *User            `gorm:"foreignKey:InitiatedBy" json:"initiator,omitempty"`
	Actions       []WorkflowAction `gorm:"foreignKey:WorkflowID" json:"actions,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at"`
	CreatedAt     time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// WorkflowAction is one approver step instance, copied from a RuleApprover at
// instantiation time. Resolution (approved/rejected) is a one-way transition.
type WorkflowAction struct {
	ID            uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	WorkflowID    uuid.UUID     `gorm:"type:uuid;not null;index" json:"workflow_id"`
	RoleID        uuid.UUID     `gorm:"type:uuid;not null;index" json:"role_id"`
	Role          *ApprovalRole `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	SequenceOrder int           `gorm:"not null" json:"sequence_order"`
	Status        string        `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	IsMandatory   bool          `gorm:"not null;default:true" json:"is_mandatory"`
	CanDelegate   bool          `gorm:"not null;default:false" json:"can_delegate"`
	ApproverID    *uuid.UUID    `gorm:"type:uuid" json:"approver_id"`
	Approver      *User         `gorm:"foreignKey:ApproverID" json:"approver,omitempty"`
	ActedAt       *time.Time    `json:"acted_at"`
	Comments      string        `gorm:"type:text" json:"comments"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// IsTerminal reports whether the workflow reached a final state.
func (w *Workflow) IsTerminal() bool {
	return w.Status != StatusPending
}

// Override modes
const (
	OverrideForceBypass  = "FORCE_BYPASS"
	OverrideForceRequire = "FORCE_REQUIRE"
)

// ApprovalOverride force-bypasses or force-requires approval for one document
// regardless of the matched rule. Consulted before normal matching.
type ApprovalOverride struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ReferenceID uuid.UUID  `gorm:"type:uuid;not null;index" json:"reference_id"`
	Mode        string     `gorm:"type:varchar(20);not null" json:"mode"` // FORCE_BYPASS, FORCE_REQUIRE
	Reason      string     `gorm:"type:text;not null" json:"reason"`
	IsActive    bool       `gorm:"not null;default:true;index" json:"is_active"`
	CreatedBy   *uuid.UUID `gorm:"type:uuid" json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
