package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"gorm.io/gorm"
)

// claimRetries Claim 在条件更新冲突时的最大重试次数
const claimRetries = 5

var errClaimConflict = errors.New("machine claimed concurrently")

// MachineRepository 机器仓库接口
type MachineRepository interface {
	Create(ctx context.Context, machine *model.Machine) error
	GetByID(ctx context.Context, id int64) (*model.Machine, error)
	GetByExternalID(ctx context.Context, providerID int64, externalID string) (*model.Machine, error)
	GetBySchedulerName(ctx context.Context, name string) (*model.Machine, error)
	GetByName(ctx context.Context, name string) (*model.Machine, error)
	ListByProvider(ctx context.Context, providerID int64, states ...model.MachineState) ([]*model.Machine, error)
	ListByBaseImage(ctx context.Context, baseImageID int64, states ...model.MachineState) ([]*model.Machine, error)
	CountByProvider(ctx context.Context, providerID int64, states ...model.MachineState) (int, error)
	CountByBaseImage(ctx context.Context, baseImageID int64, states ...model.MachineState) (int, error)
	Transition(ctx context.Context, id int64, state model.MachineState, now int64) error
	TransitionFrom(ctx context.Context, id int64, from, to model.MachineState, now int64) (bool, error)
	UpdateAddress(ctx context.Context, id int64, ip string) error
	UpdateUser(ctx context.Context, id int64, user string) error
	SetSchedulerName(ctx context.Context, id int64, name string) error
	ClaimReady(ctx context.Context, imageName string, now int64) (*model.Machine, error)
	Delete(ctx context.Context, id int64) error
}

type machineRepository struct {
	db *gorm.DB
}

// NewMachineRepository 创建机器仓库
func NewMachineRepository(db *gorm.DB) MachineRepository {
	return &machineRepository{db: db}
}

// Create 创建机器
func (r *machineRepository) Create(ctx context.Context, machine *model.Machine) error {
	return r.db.WithContext(ctx).Create(machine).Error
}

// GetByID 根据 ID 获取机器
func (r *machineRepository) GetByID(ctx context.Context, id int64) (*model.Machine, error) {
	var machine model.Machine
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&machine).Error; err != nil {
		return nil, notFound(err, "machine %d", id)
	}
	return &machine, nil
}

// GetByExternalID 根据提供商侧 ID 获取机器
func (r *machineRepository) GetByExternalID(ctx context.Context, providerID int64, externalID string) (*model.Machine, error) {
	var machine model.Machine
	if err := r.db.WithContext(ctx).
		Where("provider_id = ? AND external_id = ?", providerID, externalID).
		First(&machine).Error; err != nil {
		return nil, notFound(err, "machine with external id %q", externalID)
	}
	return &machine, nil
}

// GetBySchedulerName 根据调度器节点名获取机器
func (r *machineRepository) GetBySchedulerName(ctx context.Context, name string) (*model.Machine, error) {
	var machine model.Machine
	if name == "" {
		return nil, notFound(gorm.ErrRecordNotFound, "machine with empty scheduler name")
	}
	if err := r.db.WithContext(ctx).Where("scheduler_name = ?", name).First(&machine).Error; err != nil {
		return nil, notFound(err, "machine with scheduler name %q", name)
	}
	return &machine, nil
}

// GetByName 根据名称获取机器，重名时返回最新的一条
func (r *machineRepository) GetByName(ctx context.Context, name string) (*model.Machine, error) {
	var machine model.Machine
	if err := r.db.WithContext(ctx).Where("name = ?", name).Order("id DESC").First(&machine).Error; err != nil {
		return nil, notFound(err, "machine %q", name)
	}
	return &machine, nil
}

// ListByProvider 列出 Provider 的机器，按 state_time、id 升序
func (r *machineRepository) ListByProvider(ctx context.Context, providerID int64, states ...model.MachineState) ([]*model.Machine, error) {
	var machines []*model.Machine
	query := withStates(r.db.WithContext(ctx).Where("provider_id = ?", providerID), states)
	if err := query.Order("state_time, id").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

// ListByBaseImage 列出基础镜像的机器，按 state_time、id 升序
func (r *machineRepository) ListByBaseImage(ctx context.Context, baseImageID int64, states ...model.MachineState) ([]*model.Machine, error) {
	var machines []*model.Machine
	query := withStates(r.db.WithContext(ctx).Where("base_image_id = ?", baseImageID), states)
	if err := query.Order("state_time, id").Find(&machines).Error; err != nil {
		return nil, err
	}
	return machines, nil
}

// CountByProvider 统计 Provider 的机器数量，不传状态时统计全部
func (r *machineRepository) CountByProvider(ctx context.Context, providerID int64, states ...model.MachineState) (int, error) {
	var count int64
	query := withStates(r.db.WithContext(ctx).Model(&model.Machine{}).Where("provider_id = ?", providerID), states)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountByBaseImage 统计基础镜像的机器数量，不传状态时统计全部
func (r *machineRepository) CountByBaseImage(ctx context.Context, baseImageID int64, states ...model.MachineState) (int, error) {
	var count int64
	query := withStates(r.db.WithContext(ctx).Model(&model.Machine{}).Where("base_image_id = ?", baseImageID), states)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// Transition 修改状态，state_time 在同一条语句中更新且不会回退
func (r *machineRepository) Transition(ctx context.Context, id int64, state model.MachineState, now int64) error {
	result := r.db.WithContext(ctx).
		Model(&model.Machine{}).
		Where("id = ?", id).
		Updates(stateUpdate(state, now))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "machine %d", id)
	}
	return nil
}

// TransitionFrom 仅当当前状态为 from 时修改为 to，返回是否修改
func (r *machineRepository) TransitionFrom(ctx context.Context, id int64, from, to model.MachineState, now int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Machine{}).
		Where("id = ? AND state = ?", id, from).
		Updates(stateUpdate(to, now))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateAddress 更新机器 IP
func (r *machineRepository) UpdateAddress(ctx context.Context, id int64, ip string) error {
	return r.updateColumn(ctx, id, "ip", ip)
}

// UpdateUser 更新机器使用者
func (r *machineRepository) UpdateUser(ctx context.Context, id int64, user string) error {
	return r.updateColumn(ctx, id, "user", user)
}

// SetSchedulerName 设置调度器节点名
func (r *machineRepository) SetSchedulerName(ctx context.Context, id int64, name string) error {
	return r.updateColumn(ctx, id, "scheduler_name", name)
}

func (r *machineRepository) updateColumn(ctx context.Context, id int64, column string, value any) error {
	result := r.db.WithContext(ctx).Model(&model.Machine{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "machine %d", id)
	}
	return nil
}

// ClaimReady 原子地领取指定镜像名下最早进入 READY 的机器并置为 USED
// 没有可用机器时返回 ErrNotFound
func (r *machineRepository) ClaimReady(ctx context.Context, imageName string, now int64) (*model.Machine, error) {
	var lastErr error
	for range claimRetries {
		machine, err := r.claimOnce(ctx, imageName, now)
		if errors.Is(err, errClaimConflict) {
			lastErr = err
			continue
		}
		return machine, err
	}
	return nil, fmt.Errorf("claim %q after %d attempts: %w", imageName, claimRetries, lastErr)
}

func (r *machineRepository) claimOnce(ctx context.Context, imageName string, now int64) (*model.Machine, error) {
	var claimed model.Machine
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("state = ? AND base_image_id IN (SELECT id FROM base_images WHERE name = ?)",
				model.MachineReady, imageName).
			Order("state_time, id").
			First(&claimed).Error; err != nil {
			return notFound(err, "ready machine for image %q", imageName)
		}

		result := tx.Model(&model.Machine{}).
			Where("id = ? AND state = ?", claimed.ID, model.MachineReady).
			Updates(stateUpdate(model.MachineUsed, now))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errClaimConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	claimed.State = model.MachineUsed
	claimed.StateTime = max(claimed.StateTime, now)
	return &claimed, nil
}

// Delete 删除机器，记录不存在时视为成功
func (r *machineRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.Machine{}, "id = ?", id).Error
}

func withStates(query *gorm.DB, states []model.MachineState) *gorm.DB {
	if len(states) == 0 {
		return query
	}
	return query.Where("state IN ?", states)
}

func stateUpdate(state model.MachineState, now int64) map[string]any {
	return map[string]any{
		"state":      state,
		"state_time": gorm.Expr("MAX(state_time, ?)", now),
	}
}
