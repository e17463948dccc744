package model

import (
	"time"
)

// RequestStatus enum constants
const (
	RequestStatusPending    = "PENDING"
	RequestStatusInProgress = "IN_PROGRESS"
	RequestStatusCompleted  = "COMPLETED"
	RequestStatusRejected   = "REJECTED"
)

// Request represents a civil defense licensing request. Each request carries
// a human-readable request number and a short unique code used for lookups.
type Request struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	UserID        uint   `gorm:"not null;index:idx_requests_user_created" json:"user_id"`
	User          *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RequestNumber string `gorm:"type:varchar(50);uniqueIndex;not null" json:"request_number"`
	UniqueCode    string `gorm:"type:varchar(12);uniqueIndex;not null" json:"unique_code"`

	FullName       string `gorm:"type:varchar(100);not null" json:"full_name"`
	PersonalNumber string `gorm:"type:varchar(9);not null;index" json:"personal_number"`
	PhoneNumber    string `gorm:"type:varchar(20)" json:"phone_number"`

	BuildingName           string `gorm:"type:varchar(200)" json:"building_name"`
	RoadName               string `gorm:"type:varchar(200)" json:"road_name"`
	BuildingNumber         string `gorm:"type:varchar(50)" json:"building_number"`
	CivilDefenseFileNumber string `gorm:"type:varchar(50)" json:"civil_defense_file_number"`
	BuildingPermitNumber   string `gorm:"type:varchar(50)" json:"building_permit_number"`

	LicensesSection           bool `gorm:"not null;default:false" json:"licenses_section"`
	FireEquipmentSection      bool `gorm:"not null;default:false" json:"fire_equipment_section"`
	CommercialRecordsSection  bool `gorm:"not null;default:false" json:"commercial_records_section"`
	EngineeringOfficesSection bool `gorm:"not null;default:false" json:"engineering_offices_section"`
	HazardousMaterialsSection bool `gorm:"not null;default:false" json:"hazardous_materials_section"`

	Status     string    `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	IsArchived bool      `gorm:"not null;default:false;index" json:"is_archived"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_requests_user_created" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Files []File `gorm:"foreignKey:RequestID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

// ValidRequestStatus reports whether s is one of the known statuses.
func ValidRequestStatus(s string) bool {
	switch s {
	case RequestStatusPending, RequestStatusInProgress, RequestStatusCompleted, RequestStatusRejected:
		return true
	}
	return false
}
