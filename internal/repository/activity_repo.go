package repository

import (
	"context"
	"time"

	"github.com/Almanaei/cmsvs-sub000/internal/model"

	"gorm.io/gorm"
)

// ActivityFilter narrows activity queries. Zero values mean no constraint.
type ActivityFilter struct {
	UserID       uint
	ActivityType string
	Since        time.Time
	Until        time.Time
}

// ActivityRepository is the append-only store of user activity. There is
// deliberately no update or delete.
type ActivityRepository interface {
	Log(ctx context.Context, entry *model.Activity) error
	List(ctx context.Context, filter ActivityFilter, page, limit int) ([]model.Activity, int64, error)
}

type activityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Log(ctx context.Context, entry *model.Activity) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *activityRepository) List(ctx context.Context, filter ActivityFilter, page, limit int) ([]model.Activity, int64, error) {
	var activities []model.Activity
	var total int64

	db := GetDB(ctx, r.db).Model(&model.Activity{})
	if filter.UserID != 0 {
		db = db.Where("user_id = ?", filter.UserID)
	}
	if filter.ActivityType != "" {
		db = db.Where("activity_type = ?", filter.ActivityType)
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
	if err := db.Preload("User").Order("created_at desc").Offset(offset).Limit(limit).Find(&activities).Error; err != nil {
		return nil, 0, err
	}

	return activities, total, nil
}
