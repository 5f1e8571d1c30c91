package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalRole is a named approval capability (e.g. "Finance Manager").
// Identity is immutable once created; only descriptive fields change.
type ApprovalRole struct {
	ID             uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code           string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"code"` // e.g. "FINANCE_MANAGER"
	Name           string    `gorm:"type:varchar(255);not null" json:"name"`
	HierarchyLevel int       `gorm:"not null;default:0" json:"hierarchy_level"` // display ordering only
	IsActive       bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ApproverAssignment registers a user as an active approver for a role.
// Authorization checks re-derive from these rows, never from client claims.
type ApproverAssignment struct {
	ID        uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID     `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_role,priority:1" json:"user_id"`
	User      *User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RoleID    uuid.UUID     `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_role,priority:2" json:"role_id"`
	Role      *ApprovalRole `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	IsActive  bool          `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
