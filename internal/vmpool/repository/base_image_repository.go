package repository

import (
	"context"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"gorm.io/gorm"
)

// BaseImageRepository 基础镜像仓库接口
type BaseImageRepository interface {
	Create(ctx context.Context, image *model.BaseImage) error
	GetByID(ctx context.Context, id int64) (*model.BaseImage, error)
	GetByName(ctx context.Context, providerID int64, name string) (*model.BaseImage, error)
	ListByProvider(ctx context.Context, providerID int64) ([]*model.BaseImage, error)
	Update(ctx context.Context, image *model.BaseImage) error
	Delete(ctx context.Context, id int64) error
}

type baseImageRepository struct {
	db *gorm.DB
}

// NewBaseImageRepository 创建基础镜像仓库
func NewBaseImageRepository(db *gorm.DB) BaseImageRepository {
	return &baseImageRepository{db: db}
}

// Create 创建基础镜像
func (r *baseImageRepository) Create(ctx context.Context, image *model.BaseImage) error {
	return r.db.WithContext(ctx).Create(image).Error
}

// GetByID 根据 ID 获取基础镜像
func (r *baseImageRepository) GetByID(ctx context.Context, id int64) (*model.BaseImage, error) {
	var image model.BaseImage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&image).Error; err != nil {
		return nil, notFound(err, "base image %d", id)
	}
	return &image, nil
}

// GetByName 根据 Provider 和名称获取基础镜像
func (r *baseImageRepository) GetByName(ctx context.Context, providerID int64, name string) (*model.BaseImage, error) {
	var image model.BaseImage
	if err := r.db.WithContext(ctx).
		Where("provider_id = ? AND name = ?", providerID, name).
		First(&image).Error; err != nil {
		return nil, notFound(err, "base image %q", name)
	}
	return &image, nil
}

// ListByProvider 列出 Provider 的所有基础镜像
func (r *baseImageRepository) ListByProvider(ctx context.Context, providerID int64) ([]*model.BaseImage, error) {
	var images []*model.BaseImage
	if err := r.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("name").
		Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// Update 更新基础镜像
func (r *baseImageRepository) Update(ctx context.Context, image *model.BaseImage) error {
	return r.db.WithContext(ctx).Save(image).Error
}

// Delete 删除基础镜像，级联删除其快照镜像和机器
func (r *baseImageRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteBaseImages(tx, []int64{id})
	})
}

// deleteBaseImages 在事务中删除基础镜像及其从属记录，Result 不受影响
func deleteBaseImages(tx *gorm.DB, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Delete(&model.Machine{}, "base_image_id IN ?", ids).Error; err != nil {
		return err
	}
	if err := tx.Delete(&model.SnapshotImage{}, "base_image_id IN ?", ids).Error; err != nil {
		return err
	}
	return tx.Delete(&model.BaseImage{}, "id IN ?", ids).Error
}
