// Package idgen 提供递增 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且时间有序的 ID，用于：
//
//   - 请求 ID: req-{递增数字}，写入 X-Request-ID 响应头和错误响应
//
//   - 快照构建 ID: build-{递增数字}，标记一次快照镜像构建
//
//     requestID, err := idgen.GenerateRequestID()
//     // requestID: "req-49861235443712001"
package idgen
