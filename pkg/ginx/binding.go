package ginx

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
)

// bindArgs 绑定请求参数到 args 结构体
// 顺序：JSON Body > URI 参数 > Query 参数，后者覆盖前者中出现的同名字段
func bindArgs(ctx *gin.Context, args any) error {
	if ctx.Request.Body != nil && ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(args); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
	}

	if len(ctx.Params) > 0 {
		if err := ctx.ShouldBindUri(args); err != nil {
			return err
		}
	}

	if ctx.Request.URL.RawQuery != "" {
		return ctx.ShouldBindQuery(args)
	}
	return nil
}
