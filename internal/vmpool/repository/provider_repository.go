package repository

import (
	"context"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"gorm.io/gorm"
)

// ProviderRepository Provider 仓库接口
type ProviderRepository interface {
	Create(ctx context.Context, provider *model.Provider) error
	GetByID(ctx context.Context, id int64) (*model.Provider, error)
	GetByName(ctx context.Context, name string) (*model.Provider, error)
	List(ctx context.Context) ([]*model.Provider, error)
	Update(ctx context.Context, provider *model.Provider) error
	Delete(ctx context.Context, id int64) error
}

type providerRepository struct {
	db *gorm.DB
}

// NewProviderRepository 创建 Provider 仓库
func NewProviderRepository(db *gorm.DB) ProviderRepository {
	return &providerRepository{db: db}
}

// Create 创建 Provider
func (r *providerRepository) Create(ctx context.Context, provider *model.Provider) error {
	return r.db.WithContext(ctx).Create(provider).Error
}

// GetByID 根据 ID 获取 Provider
func (r *providerRepository) GetByID(ctx context.Context, id int64) (*model.Provider, error) {
	var provider model.Provider
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&provider).Error; err != nil {
		return nil, notFound(err, "provider %d", id)
	}
	return &provider, nil
}

// GetByName 根据名称获取 Provider
func (r *providerRepository) GetByName(ctx context.Context, name string) (*model.Provider, error) {
	var provider model.Provider
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&provider).Error; err != nil {
		return nil, notFound(err, "provider %q", name)
	}
	return &provider, nil
}

// List 列出所有 Provider
func (r *providerRepository) List(ctx context.Context) ([]*model.Provider, error) {
	var providers []*model.Provider
	if err := r.db.WithContext(ctx).Order("name").Find(&providers).Error; err != nil {
		return nil, err
	}
	return providers, nil
}

// Update 更新 Provider
func (r *providerRepository) Update(ctx context.Context, provider *model.Provider) error {
	return r.db.WithContext(ctx).Save(provider).Error
}

// Delete 删除 Provider 及其下所有镜像和机器
func (r *providerRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var imageIDs []int64
		if err := tx.Model(&model.BaseImage{}).Where("provider_id = ?", id).Pluck("id", &imageIDs).Error; err != nil {
			return err
		}
		if err := deleteBaseImages(tx, imageIDs); err != nil {
			return err
		}
		return tx.Delete(&model.Provider{}, "id = ?", id).Error
	})
}
