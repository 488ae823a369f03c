package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jimyag/vmpool/internal/vmpool/entity"
	"github.com/jimyag/vmpool/pkg/ginx"
)

type Result struct {
	allocator AllocatorInterface
}

func NewResult(allocator AllocatorInterface) *Result {
	return &Result{allocator: allocator}
}

func (r *Result) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/results/report", ginx.Adapt5(r.Report))
}

func (r *Result) Report(ctx *gin.Context, req *entity.ReportResultRequest) (*entity.ReportResultResponse, error) {
	return r.allocator.SetResult(ctx, req.ResultID, req.Result)
}
