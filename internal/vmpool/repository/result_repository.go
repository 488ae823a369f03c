package repository

import (
	"context"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"gorm.io/gorm"
)

// ResultRepository 任务结果仓库接口
type ResultRepository interface {
	Create(ctx context.Context, result *model.Result) error
	GetByID(ctx context.Context, id int64) (*model.Result, error)
	ListByMachine(ctx context.Context, machineID int64) ([]*model.Result, error)
	SetResult(ctx context.Context, id int64, code model.ResultCode, now int64) (bool, error)
}

type resultRepository struct {
	db *gorm.DB
}

// NewResultRepository 创建任务结果仓库
func NewResultRepository(db *gorm.DB) ResultRepository {
	return &resultRepository{db: db}
}

// Create 创建任务结果
func (r *resultRepository) Create(ctx context.Context, result *model.Result) error {
	return r.db.WithContext(ctx).Create(result).Error
}

// GetByID 根据 ID 获取任务结果
func (r *resultRepository) GetByID(ctx context.Context, id int64) (*model.Result, error) {
	var result model.Result
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&result).Error; err != nil {
		return nil, notFound(err, "result %d", id)
	}
	return &result, nil
}

// ListByMachine 列出机器上的任务结果
func (r *resultRepository) ListByMachine(ctx context.Context, machineID int64) ([]*model.Result, error) {
	var results []*model.Result
	if err := r.db.WithContext(ctx).Where("machine_id = ?", machineID).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// SetResult 写入结果码和结束时间，返回是否实际写入
// TIMEOUT 不会覆盖已有的结果，其他结果码总是覆盖
func (r *resultRepository) SetResult(ctx context.Context, id int64, code model.ResultCode, now int64) (bool, error) {
	query := r.db.WithContext(ctx).Model(&model.Result{}).Where("id = ?", id)
	if code == model.ResultTimeout {
		query = query.Where("result = ?", model.ResultUnset)
	}
	res := query.Updates(map[string]any{
		"result":   code,
		"end_time": now,
	})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// 区分记录不存在和 TIMEOUT 被忽略
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
