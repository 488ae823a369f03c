// Package ginx 提供 gin 框架的 handler 适配器，支持自动参数绑定、请求 ID 和统一的错误响应
//
// 支持的 handler 签名：
//
//	// 有参数，有返回值，有 error
//	func(c *gin.Context, args *Args) (resp, error)
//
//	// 有参数，只有 error
//	func(c *gin.Context, args *Args) error
//
//	// 无参数，有返回值，有 error
//	func(c *gin.Context) (resp, error)
//
// 参数按 JSON body、URI、Query 的顺序绑定；实现了 IsValid() error 的参数会在调用 handler 前校验。
// 错误统一渲染为 apierror.ErrorResponse，HTTP 状态码取自 *apierror.Error。
//
// 使用示例：
//
//	router := gin.New()
//	router.Use(ginx.RequestID(idgen.GenerateRequestID))
//	router.POST("/api/machines/fetch", ginx.Adapt5(h.Fetch))
//	router.GET("/api/status", ginx.Adapt3(h.Status))
package ginx
