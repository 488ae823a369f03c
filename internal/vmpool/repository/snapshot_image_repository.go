package repository

import (
	"context"
	"errors"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"gorm.io/gorm"
)

// SnapshotImageRepository 快照镜像仓库接口
type SnapshotImageRepository interface {
	Create(ctx context.Context, image *model.SnapshotImage) error
	GetByID(ctx context.Context, id int64) (*model.SnapshotImage, error)
	ListByBaseImage(ctx context.Context, baseImageID int64) ([]*model.SnapshotImage, error)
	ListReady(ctx context.Context, baseImageID int64) ([]*model.SnapshotImage, error)
	Current(ctx context.Context, baseImageID int64) (*model.SnapshotImage, error)
	Transition(ctx context.Context, id int64, state model.SnapshotState, now int64) error
	Update(ctx context.Context, image *model.SnapshotImage) error
	Delete(ctx context.Context, id int64) error
}

type snapshotImageRepository struct {
	db *gorm.DB
}

// NewSnapshotImageRepository 创建快照镜像仓库
func NewSnapshotImageRepository(db *gorm.DB) SnapshotImageRepository {
	return &snapshotImageRepository{db: db}
}

// Create 创建快照镜像
func (r *snapshotImageRepository) Create(ctx context.Context, image *model.SnapshotImage) error {
	return r.db.WithContext(ctx).Create(image).Error
}

// GetByID 根据 ID 获取快照镜像
func (r *snapshotImageRepository) GetByID(ctx context.Context, id int64) (*model.SnapshotImage, error) {
	var image model.SnapshotImage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&image).Error; err != nil {
		return nil, notFound(err, "snapshot image %d", id)
	}
	return &image, nil
}

// ListByBaseImage 列出基础镜像的所有快照镜像，按版本升序
func (r *snapshotImageRepository) ListByBaseImage(ctx context.Context, baseImageID int64) ([]*model.SnapshotImage, error) {
	var images []*model.SnapshotImage
	if err := r.db.WithContext(ctx).
		Where("base_image_id = ?", baseImageID).
		Order("version, id").
		Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// ListReady 列出基础镜像的 READY 快照镜像，按版本升序
func (r *snapshotImageRepository) ListReady(ctx context.Context, baseImageID int64) ([]*model.SnapshotImage, error) {
	var images []*model.SnapshotImage
	if err := r.db.WithContext(ctx).
		Where("base_image_id = ? AND state = ?", baseImageID, model.SnapshotReady).
		Order("version, id").
		Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

// Current 返回版本最大的 READY 快照镜像，没有则返回 nil
func (r *snapshotImageRepository) Current(ctx context.Context, baseImageID int64) (*model.SnapshotImage, error) {
	var image model.SnapshotImage
	err := r.db.WithContext(ctx).
		Where("base_image_id = ? AND state = ?", baseImageID, model.SnapshotReady).
		Order("version DESC, id DESC").
		First(&image).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// Transition 修改状态，state_time 在同一条语句中更新且不会回退
func (r *snapshotImageRepository) Transition(ctx context.Context, id int64, state model.SnapshotState, now int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.SnapshotImage{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      state,
			"state_time": gorm.Expr("MAX(state_time, ?)", now),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "snapshot image %d", id)
	}
	return nil
}

// Update 更新快照镜像的非状态字段
func (r *snapshotImageRepository) Update(ctx context.Context, image *model.SnapshotImage) error {
	return r.db.WithContext(ctx).
		Model(&model.SnapshotImage{}).
		Where("id = ?", image.ID).
		Updates(map[string]any{
			"name":               image.Name,
			"external_id":        image.ExternalID,
			"server_external_id": image.ServerExternalID,
		}).Error
}

// Delete 删除快照镜像，记录不存在时视为成功
func (r *snapshotImageRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.SnapshotImage{}, "id = ?", id).Error
}
