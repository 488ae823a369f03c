package ginx

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HeaderRequestID 请求 ID 响应头
const HeaderRequestID = "X-Request-ID"

// contextKey 用于在 gin.Context 中存储值的类型安全 key
type contextKey struct{}

// requestIDKey 用于存储请求 ID
var requestIDKey = contextKey{}

// RequestID 为每个请求分配 ID，写入响应头，并把带 request_id 字段的 logger 放入请求上下文
// 客户端传入的 X-Request-ID 会被沿用
func RequestID(generate func() (string, error)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		id := ctx.GetHeader(HeaderRequestID)
		if id == "" {
			var err error
			if id, err = generate(); err != nil {
				id = "unknown"
			}
		}
		ctx.Set(requestIDKey, id)
		ctx.Header(HeaderRequestID, id)

		logger := zerolog.Ctx(ctx.Request.Context()).With().Str("request_id", id).Logger()
		ctx.Request = ctx.Request.WithContext(logger.WithContext(ctx.Request.Context()))
		ctx.Next()
	}
}

// GetRequestID 获取当前请求 ID，未设置时返回空字符串
func GetRequestID(ctx *gin.Context) string {
	v, exists := ctx.Get(requestIDKey)
	if !exists {
		return ""
	}
	id, _ := v.(string)
	return id
}
