// Package entity 定义 API 和 CLI 使用的业务实体
package entity

import (
	"errors"
	"strings"
)

// Machine 机器信息
type Machine struct {
	ID            int64  `json:"id"`
	BaseImageID   int64  `json:"base_image_id"`
	ProviderID    int64  `json:"provider_id"`
	ExternalID    string `json:"external_id"`
	Name          string `json:"name"`
	SchedulerName string `json:"scheduler_name,omitempty"`
	IP            string `json:"ip"`
	User          string `json:"user,omitempty"`
	State         string `json:"state"`
	StateTime     int64  `json:"state_time"`
}

// FetchMachineRequest 领取一台 READY 机器
// JobName 不为空时同时创建一条任务结果
type FetchMachineRequest struct {
	Image          string `json:"image" form:"image"`
	JobName        string `json:"job_name" form:"job_name"`
	BuildNumber    string `json:"build_number" form:"build_number"`
	ChangeNumber   string `json:"change_number" form:"change_number"`
	PatchsetNumber string `json:"patchset_number" form:"patchset_number"`
}

func (r *FetchMachineRequest) IsValid() error {
	if strings.TrimSpace(r.Image) == "" {
		return errors.New("image is required")
	}
	return nil
}

// FetchMachineResponse 领取结果
type FetchMachineResponse struct {
	IP        string   `json:"ip"`
	Provider  string   `json:"provider"`
	MachineID int64    `json:"machine_id"`
	ResultID  int64    `json:"result_id,omitempty"`
	Machine   *Machine `json:"machine"`
}

// MachineNameRequest 按调度器节点名（或机器名）定位机器
type MachineNameRequest struct {
	Name string `json:"name" form:"name"`
}

func (r *MachineNameRequest) IsValid() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	return nil
}

// HoldMachineRequest 保留机器
type HoldMachineRequest struct {
	MachineID int64 `json:"machine_id" form:"machine_id"`
}

func (r *HoldMachineRequest) IsValid() error {
	if r.MachineID <= 0 {
		return errors.New("machine_id must be positive")
	}
	return nil
}

// GiveMachineRequest 将机器赠送给某个用户
type GiveMachineRequest struct {
	MachineID  int64    `json:"machine_id"`
	User       string   `json:"user"`
	PublicKeys []string `json:"public_keys"`
}

func (r *GiveMachineRequest) IsValid() error {
	if r.MachineID <= 0 {
		return errors.New("machine_id must be positive")
	}
	if strings.TrimSpace(r.User) == "" {
		return errors.New("user is required")
	}
	if len(r.PublicKeys) == 0 {
		return errors.New("at least one public key is required")
	}
	return nil
}

// MachineResponse 单台机器
type MachineResponse struct {
	Machine *Machine `json:"machine"`
}
