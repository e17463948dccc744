package repository

import (
	"context"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/model"

	"gorm.io/gorm"
)

// RequestFilter narrows request listings. Zero values mean no constraint.
type RequestFilter struct {
	UserID uint
	Status string
	Search string
	Since  time.Time
	Until  time.Time
	// Archived rows are excluded unless IncludeArchived is set.
	IncludeArchived bool
}

type RequestRepository interface {
	Create(ctx context.Context, req *model.Request) error
	GetByID(ctx context.Context, id uint) (*model.Request, error)
	GetByRequestNumber(ctx context.Context, number string) (*model.Request, error)
	GetByUniqueCode(ctx context.Context, code string) (*model.Request, error)
	List(ctx context.Context, filter RequestFilter, page, limit int) ([]model.Request, int64, error)
	Update(ctx context.Context, req *model.Request) error
	Delete(ctx context.Context, id uint) error
	CountByStatus(ctx context.Context, userID uint) (map[string]int64, error)
}

type requestRepository struct {
	db *gorm.DB
}

func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Create(req).Error
}

func (r *requestRepository) GetByID(ctx context.Context, id uint) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).Preload("Files").First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetByRequestNumber(ctx context.Context, number string) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).Preload("Files").First(&req, "request_number = ?", number).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) GetByUniqueCode(ctx context.Context, code string) (*model.Request, error) {
	var req model.Request
	if err := GetDB(ctx, r.db).Preload("Files").First(&req, "unique_code = ?", code).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *requestRepository) List(ctx context.Context, filter RequestFilter, page, limit int) ([]model.Request, int64, error) {
	var requests []model.Request
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Request{})
	if filter.UserID != 0 {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		db = db.Where(
			"request_number LIKE ? OR unique_code LIKE ? OR full_name LIKE ? OR personal_number LIKE ?"+
				" OR phone_number LIKE ? OR building_permit_number LIKE ? OR building_name LIKE ? OR civil_defense_file_number LIKE ?",
			like, like, like, like, like, like, like, like)
	}
	if !filter.IncludeArchived {
		db = db.Where("is_archived = ?", false)
	}
	if !filter.Since.IsZero() {
		db = db.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		db = db.Where("created_at < ?", filter.Until)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Preload("Files").Order("created_at desc").Offset(offset).Limit(limit).Find(&requests).Error; err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *requestRepository) Update(ctx context.Context, req *model.Request) error {
	return GetDB(ctx, r.db).Save(req).Error
}

func (r *requestRepository) Delete(ctx context.Context, id uint) error {
	db := GetDB(ctx, r.db)
	if err := db.Where("request_id = ?", id).Delete(&model.File{}).Error; err != nil {
		return err
	}
	return db.Delete(&model.Request{}, "id = ?", id).Error
}

func (r *requestRepository) CountByStatus(ctx context.Context, userID uint) (map[string]int64, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row

	db := GetDB(ctx, r.db).Model(&model.Request{}).Select("status, count(*) as count")
	if userID != 0 {
		db = db.Where("user_id = ?", userID)
	}
	if err := db.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}
