package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Global role constants. Admin and manager may act on any pending step.
const (
	GlobalRoleAdmin   = "admin"
	GlobalRoleManager = "manager"
	GlobalRoleStaff   = "staff"
)

// User represents the central user entity for logic and database structure
type User struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username     string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Password     string     `gorm:"type:varchar(255);not null" json:"-"` // Omit password from JSON requests/responses
	Role         string     `gorm:"type:varchar(50);not null" json:"role"` // admin, manager, staff
	DepartmentID *uuid.UUID `gorm:"type:uuid;index" json:"department_id"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"` // GORM soft delete
}

// IsElevated reports whether the user's global role may act on any pending step.
func (u *User) IsElevated() bool {
	return u.Role == GlobalRoleAdmin || u.Role == GlobalRoleManager
}

// RefreshToken stores long-lived tokens allowing users to request new access tokens
type RefreshToken struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Token     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"token"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
