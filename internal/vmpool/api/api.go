// Package api 提供机器池的 HTTP 接口
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vmpool/pkg/ginx"
	"github.com/jimyag/vmpool/pkg/idgen"
	"github.com/rs/zerolog"
)

type API struct {
	engine *gin.Engine
	server *http.Server

	machine *Machine
	result  *Result
	status  *Status
}

func New(address string, allocator AllocatorInterface, statusService StatusServiceInterface) *API {
	engine := gin.New()
	engine.ContextWithFallback = true
	engine.Use(gin.Recovery(), ginx.RequestID(idgen.GenerateRequestID), gin.Logger())

	api := &API{
		engine:  engine,
		machine: NewMachine(allocator),
		result:  NewResult(allocator),
		status:  NewStatus(statusService),
	}

	group := engine.Group("/api")
	api.machine.RegisterRoutes(group)
	api.result.RegisterRoutes(group)
	api.status.RegisterRoutes(group)

	api.server = &http.Server{
		Addr:    address,
		Handler: engine,
	}
	return api
}

// Handler 返回路由，测试中直接使用
func (a *API) Handler() http.Handler {
	return a.engine
}

// Name 实现 grace.Grace 接口
func (a *API) Name() string {
	return "vmpool API"
}

func (a *API) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Str("address", a.server.Addr).Msg("API listening")
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
