// Package service 实现机器池的各个组件
package service

import (
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jinzhu/copier"
)

// machineModelToEntity 将 model.Machine 转换为 entity.Machine
func machineModelToEntity(m *model.Machine) (*entity.Machine, error) {
	e := &entity.Machine{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}
	// 状态是自定义字符串类型
	e.State = string(m.State)
	return e, nil
}

// resultModelToEntity 将 model.Result 转换为 entity.Result
func resultModelToEntity(m *model.Result) (*entity.Result, error) {
	e := &entity.Result{}
	if err := copier.Copy(e, m); err != nil {
		return nil, err
	}
	e.Result = string(m.Result)
	return e, nil
}
