package ginx

import (
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vmpool/pkg/apierror"
)

// Adapt3 适配无参数、有返回值和 error 的 handler
func Adapt3[T any](fn func(*gin.Context) (T, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		result, err := fn(ctx)
		if err != nil {
			renderError(ctx, err)
			return
		}
		renderResponse(ctx, result)
	}
}

// Adapt4 适配有参数、只有 error 的 handler
func Adapt4[T any](fn func(*gin.Context, *T) error) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		args, ok := bindAndValidate[T](ctx)
		if !ok {
			return
		}
		if err := fn(ctx, args); err != nil {
			renderError(ctx, err)
			return
		}
		ctx.Status(http.StatusNoContent)
	}
}

// Adapt5 适配有参数、有返回值和 error 的 handler
func Adapt5[TArgs any, TResp any](fn func(*gin.Context, *TArgs) (TResp, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		args, ok := bindAndValidate[TArgs](ctx)
		if !ok {
			return
		}
		result, err := fn(ctx, args)
		if err != nil {
			renderError(ctx, err)
			return
		}
		renderResponse(ctx, result)
	}
}

// bindAndValidate 绑定并校验参数，失败时已经写入错误响应
func bindAndValidate[T any](ctx *gin.Context) (*T, bool) {
	var zero T
	args := reflect.New(reflect.TypeOf(zero)).Interface()

	if err := bindArgs(ctx, args); err != nil {
		renderError(ctx, apierror.WrapError(apierror.ErrInvalidParameter, err.Error(), err))
		return nil, false
	}

	if validator, ok := args.(interface{ IsValid() error }); ok {
		if err := validator.IsValid(); err != nil {
			if _, isAPIErr := err.(*apierror.Error); !isAPIErr {
				err = apierror.WrapError(apierror.ErrInvalidParameter, err.Error(), err)
			}
			renderError(ctx, err)
			return nil, false
		}
	}

	return args.(*T), true
}
