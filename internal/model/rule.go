package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Approval categories: the document classes a rule can govern
const (
	CategoryPurchaseRequest = "purchase_request"
	CategoryPurchaseOrder   = "purchase_order"
	CategoryContracts       = "contracts"
	CategoryCapex           = "capex"
	CategoryPayments        = "payments"
	CategoryFloatCash       = "float_cash"
)

// ValidCategory reports whether c is one of the known approval categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryPurchaseRequest, CategoryPurchaseOrder, CategoryContracts,
		CategoryCapex, CategoryPayments, CategoryFloatCash:
		return true
	}
	return false
}

// ApprovalRule maps an amount range (per category, currency and optionally
// department) to an ordered approver sequence. Version increments on every edit.
type ApprovalRule struct {
	ID                 uuid.UUID        `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Category           string           `gorm:"type:varchar(30);not null;index" json:"category"`
	MinAmount          decimal.Decimal  `gorm:"type:decimal(18,4);not null;default:0" json:"min_amount"`
	MaxAmount          *decimal.Decimal `gorm:"type:decimal(18,4)" json:"max_amount"` // nil = unbounded
	Currency           string           `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	DepartmentID       *uuid.UUID       `gorm:"type:uuid;index" json:"department_id"` // nil = all departments
	Department         *Department      `gorm:"foreignKey:DepartmentID" json:"department,omitempty"`
	RequiresSequential bool             `gorm:"not null;default:true" json:"requires_sequential"`
	AutoApproveBelow   *decimal.Decimal `gorm:"type:decimal(18,4)" json:"auto_approve_below"`
	EscalationHours    int              `gorm:"not null;default:48" json:"escalation_hours"` // SLA metadata, no active timer
	IsActive           bool             `gorm:"not null;default:true;index" json:"is_active"`
	Version            int              `gorm:"not null;default:1" json:"version"`
	Approvers          []RuleApprover   `gorm:"foreignKey:RuleID" json:"approvers,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// RuleApprover is one ordered step template attached to a rule.
// A rule with zero approvers means no human approval beyond auto-approve logic.
type RuleApprover struct {
	ID            uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RuleID        uuid.UUID     `gorm:"type:uuid;not null;index;uniqueIndex:idx_rule_seq,priority:1" json:"rule_id"`
	SequenceOrder int           `gorm:"not null;uniqueIndex:idx_rule_seq,priority:2" json:"sequence_order"` // 1-based
	RoleID        uuid.UUID     `gorm:"type:uuid;not null" json:"role_id"`
	Role          *ApprovalRole `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	IsMandatory   bool          `gorm:"not null;default:true" json:"is_mandatory"`
	CanDelegate   bool          `gorm:"not null;default:false" json:"can_delegate"`
	CreatedAt     time.Time     `json:"created_at"`
}

// MatrixSnapshot is a full JSON snapshot of a rule and its approvers, written
// on every rule save so matrix changes can be audited and rolled back.
type MatrixSnapshot struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RuleID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"rule_id"`
	Version   int        `gorm:"not null" json:"version"`
	Snapshot  string     `gorm:"type:jsonb;not null" json:"snapshot"`
	CreatedBy *uuid.UUID `gorm:"type:uuid" json:"created_by"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

// Department is the organizational dimension rules can be scoped to.
type Department struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code      string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
