package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/internal/vmpool/service"
	"github.com/jimyag/vmpool/pkg/ginx"
)

// StatusServiceInterface 池状态查询
type StatusServiceInterface interface {
	Status(ctx context.Context, req *entity.PoolStatusRequest) (*entity.PoolStatus, error)
}

var _ StatusServiceInterface = (*service.StatusService)(nil)

type Status struct {
	statusService StatusServiceInterface
}

func NewStatus(statusService StatusServiceInterface) *Status {
	return &Status{statusService: statusService}
}

func (s *Status) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/status", ginx.Adapt5(s.Status))
}

// Status 阈值未满足时返回 503，调用方可以据此做健康检查
func (s *Status) Status(ctx *gin.Context, req *entity.PoolStatusRequest) (*entity.PoolStatus, error) {
	status, err := s.statusService.Status(ctx, req)
	if err != nil {
		return nil, err
	}
	return status, nil
}
