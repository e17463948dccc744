package model

import (
	"time"
)

// FileCategory enum constants
const (
	FileCategoryArchitecturalPlans        = "architectural_plans"
	FileCategoryElectricalMechanicalPlans = "electrical_mechanical_plans"
	FileCategoryInspectionDepartment      = "inspection_department"
	FileCategoryFireEquipment             = "fire_equipment_files"
	FileCategoryCommercialRecords         = "commercial_records_files"
	FileCategoryEngineeringOffices        = "engineering_offices_files"
	FileCategoryHazardousMaterials        = "hazardous_materials_files"
	FileCategoryAdditionalDocuments       = "additional_documents"
	FileCategoryGeneral                   = "general"
)

// ValidFileCategory reports whether c is one of the known categories.
func ValidFileCategory(c string) bool {
	switch c {
	case FileCategoryArchitecturalPlans, FileCategoryElectricalMechanicalPlans,
		FileCategoryInspectionDepartment, FileCategoryFireEquipment,
		FileCategoryCommercialRecords, FileCategoryEngineeringOffices,
		FileCategoryHazardousMaterials, FileCategoryAdditionalDocuments,
		FileCategoryGeneral:
		return true
	}
	return false
}

// File represents one stored upload. OriginalFilename is what the client sent;
// Filename is the collision-free name on disk and FilePath the full stored path.
type File struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	RequestID        uint      `gorm:"not null;index" json:"request_id"`
	Filename         string    `gorm:"type:varchar(500);not null" json:"filename"`
	OriginalFilename string    `gorm:"type:varchar(500);not null" json:"original_filename"`
	FilePath         string    `gorm:"type:varchar(1000);not null" json:"file_path"`
	FileSize         int64     `gorm:"not null" json:"file_size"`
	MimeType         string    `gorm:"type:varchar(100)" json:"mime_type"`
	FileCategory     string    `gorm:"type:varchar(50);not null;default:'general';index" json:"file_category"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}
