package model

import (
	"time"
)

// ActivityType enum constants
const (
	ActivityLogin            = "login"
	ActivityLogout           = "logout"
	ActivityRequestCreated   = "request_created"
	ActivityRequestUpdated   = "request_updated"
	ActivityRequestCompleted = "request_completed"
	ActivityRequestRejected  = "request_rejected"
	ActivityFileUploaded     = "file_uploaded"
	ActivityFileDeleted      = "file_deleted"
	ActivityProfileUpdated   = "profile_updated"
	ActivityAvatarUploaded   = "avatar_uploaded"
	ActivityPasswordChanged  = "password_changed"
	ActivityDataExported     = "data_exported"
	ActivitySystemUpdate     = "system_update"

	// Cross-user access: logged against the OWNER of the touched resource,
	// with the acting admin identified in Details.
	ActivityCrossUserRequestViewed        = "cross_user_request_viewed"
	ActivityCrossUserRequestEdited        = "cross_user_request_edited"
	ActivityCrossUserRequestStatusUpdated = "cross_user_request_status_updated"
	ActivityCrossUserFileAccessed         = "cross_user_file_accessed"
	ActivityCrossUserFileDeleted          = "cross_user_file_deleted"
)

// Activity is an append-only record of a user action. Details holds a JSON
// snapshot of type-specific context. Rows are never updated or deleted.
type Activity struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:idx_activities_user_created" json:"user_id"`
	User         *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	ActivityType string    `gorm:"type:varchar(50);not null;index" json:"activity_type"`
	Description  string    `gorm:"type:text;not null" json:"description"`
	Details      string    `gorm:"type:jsonb" json:"details,omitempty"`
	IPAddress    string    `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent    string    `gorm:"type:varchar(500)" json:"user_agent,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index:idx_activities_user_created,sort:desc" json:"created_at"`
}
