package repository

import (
	"context"

	"github.com/Almanaei/cmsvs-sub000/internal/model"

	"gorm.io/gorm"
)

type FileRepository interface {
	Create(ctx context.Context, file *model.File) error
	GetByID(ctx context.Context, id uint) (*model.File, error)
	ListByRequest(ctx context.Context, requestID uint) ([]model.File, error)
	Delete(ctx context.Context, id uint) error
}

type fileRepository struct {
	db *gorm.DB
}

func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

func (r *fileRepository) Create(ctx context.Context, file *model.File) error {
	return GetDB(ctx, r.db).Create(file).Error
}

func (r *fileRepository) GetByID(ctx context.Context, id uint) (*model.File, error) {
	var file model.File
	if err := GetDB(ctx, r.db).First(&file, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepository) ListByRequest(ctx context.Context, requestID uint) ([]model.File, error) {
	var files []model.File
	if err := GetDB(ctx, r.db).Where("request_id = ?", requestID).Order("created_at asc").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *fileRepository) Delete(ctx context.Context, id uint) error {
	return GetDB(ctx, r.db).Delete(&model.File{}, "id = ?", id).Error
}
