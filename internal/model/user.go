package model

import (
	"time"
)

// Role enum constants
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// ApprovalStatus enum constants
const (
	UserApprovalPending  = "pending"
	UserApprovalApproved = "approved"
	UserApprovalRejected = "rejected"
)

// User represents the central user entity for logic and database structure.
// Deactivation is soft: is_active flips to false and the row stays.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"username"`
	Email          string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"email"`
	FullName       string    `gorm:"type:varchar(100);not null" json:"full_name"`
	Password       string    `gorm:"type:varchar(255);not null" json:"-"` // Omit password hash from JSON responses
	Role           string    `gorm:"type:varchar(20);not null;default:'user';index" json:"role"`
	IsActive       bool      `gorm:"not null;default:true;index" json:"is_active"`
	ApprovalStatus string    `gorm:"type:varchar(20);not null;default:'pending'" json:"approval_status"`
	AvatarPath     string    `gorm:"type:varchar(500)" json:"avatar_path,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// CanLogin mirrors the authentication gate: active and approved, with
// admins exempt from the approval check.
func (u *User) CanLogin() bool {
	if !u.IsActive {
		return false
	}
	return u.Role == RoleAdmin || u.ApprovalStatus == UserApprovalApproved
}
