package service

import (
	"context"
	"strconv"

	"github.com/jimyag/vmpool/internal/vmpool/config"
	"github.com/jimyag/vmpool/internal/vmpool/repository/model"
	"github.com/jimyag/vmpool/pkg/jenkins"
	"github.com/rs/zerolog"
)

// Scheduler CI 调度器上的节点管理
type Scheduler interface {
	NodeExists(ctx context.Context, name string) (bool, error)
	CreateNode(ctx context.Context, node jenkins.Node) error
	DisableNode(ctx context.Context, name, message string) error
	DeleteNode(ctx context.Context, name string) error
}

var (
	_ Scheduler = (*jenkins.Client)(nil)
	_ Scheduler = (*jenkins.MockClient)(nil)
)

// NewScheduler 根据配置创建调度器客户端，未配置 URL 时返回 nil
func NewScheduler(cfg config.SchedulerConfig) (Scheduler, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	client, err := jenkins.New(jenkins.Options{
		URL:      cfg.URL,
		User:     cfg.User,
		APIToken: cfg.APIToken,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// schedulerNodes 调度器操作都是尽力而为，失败只记录日志
type schedulerNodes struct {
	scheduler   Scheduler
	sshUser     string
	credentials string
	labels      string
}

// register 将 READY 机器注册为调度器节点，返回节点名
func (s *schedulerNodes) register(ctx context.Context, machine *model.Machine, imageName string) string {
	if s == nil || s.scheduler == nil {
		return ""
	}
	logger := zerolog.Ctx(ctx)

	labels := s.labels
	if labels == "" {
		labels = imageName
	}
	node := jenkins.Node{
		Name:          machine.Name,
		Description:   "vmpool machine " + strconv.FormatInt(machine.ID, 10),
		Host:          machine.IP,
		User:          s.sshUser,
		CredentialsID: s.credentials,
		Labels:        labels,
	}
	if err := s.scheduler.CreateNode(ctx, node); err != nil {
		logger.Warn().Err(err).Str("machine", machine.Name).Msg("Failed to register scheduler node")
		return ""
	}
	return node.Name
}

// disable 将节点置为离线
func (s *schedulerNodes) disable(ctx context.Context, machine *model.Machine, message string) {
	if s == nil || s.scheduler == nil || machine.SchedulerName == "" {
		return
	}
	logger := zerolog.Ctx(ctx)

	exists, err := s.scheduler.NodeExists(ctx, machine.SchedulerName)
	if err != nil {
		logger.Warn().Err(err).Str("node", machine.SchedulerName).Msg("Failed to query scheduler node")
		return
	}
	if !exists {
		return
	}
	if err := s.scheduler.DisableNode(ctx, machine.SchedulerName, message); err != nil {
		logger.Warn().Err(err).Str("node", machine.SchedulerName).Msg("Failed to disable scheduler node")
	}
}

// remove 删除节点
func (s *schedulerNodes) remove(ctx context.Context, machine *model.Machine) {
	if s == nil || s.scheduler == nil || machine.SchedulerName == "" {
		return
	}
	logger := zerolog.Ctx(ctx)

	exists, err := s.scheduler.NodeExists(ctx, machine.SchedulerName)
	if err != nil {
		logger.Warn().Err(err).Str("node", machine.SchedulerName).Msg("Failed to query scheduler node")
		return
	}
	if !exists {
		return
	}
	logger.Debug().Int64("machine_id", machine.ID).Str("node", machine.SchedulerName).Msg("Deleting scheduler node")
	if err := s.scheduler.DeleteNode(ctx, machine.SchedulerName); err != nil {
		logger.Warn().Err(err).Str("node", machine.SchedulerName).Msg("Failed to delete scheduler node")
	}
}
