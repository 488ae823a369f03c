package ginx

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimyag/vmpool/pkg/apierror"
	"github.com/rs/zerolog"
)

// renderResponse 渲染 JSON 响应，nil 响应返回 204
func renderResponse(ctx *gin.Context, response any) {
	if response == nil {
		ctx.Status(http.StatusNoContent)
		return
	}
	ctx.JSON(http.StatusOK, response)
}

// renderError 渲染错误响应
// 非 *apierror.Error 的错误按内部错误处理，RawError 只写日志不返回给调用方
func renderError(ctx *gin.Context, err error) {
	apiErr := apierror.From(err)
	status := apierror.StatusOf(apiErr)

	if status >= http.StatusInternalServerError {
		zerolog.Ctx(ctx.Request.Context()).Error().
			Err(err).
			Str("code", apiErr.Code).
			Msg("Request failed")
	}

	ctx.AbortWithStatusJSON(status, apierror.NewErrorResponse(GetRequestID(ctx), apiErr))
}
