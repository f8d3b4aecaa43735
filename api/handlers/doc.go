// Copyright (c) RelayPool Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 RelayPool HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 RelayPool 所有 HTTP 端点的请求处理逻辑，
包括账户选择、限流回调、运行统计、健康检查以及统一的响应/错误处理。
各 Handler 都是标准 net/http 处理函数，API 文档由 Swagger 注解生成。

# 类型一览

  - SchedulerHandler：账户选择处理器（/api/v1/scheduler/select）
  - RateLimitHandler：限流标记与解除（/api/v1/accounts/{id}/rate-limit）
  - StatsHandler：调度计数与连接池快照（/api/v1/scheduler/stats）
  - HealthHandler：服务健康检查（/health, /healthz, /ready, /version）
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码
  - HealthCheck / PingCheck：可插拔健康检查接口与探活函数适配器

# 能力

  - 响应编码：WriteJSON / WriteSuccess / WriteError 统一出口
  - 请求解码：DecodeJSONBody 限制请求体为 1 MB 并拒绝未知字段
  - 调度错误码到 HTTP 状态码的自动映射（4xx/5xx）
  - 就绪检查并发探测所有依赖，整体延迟取最慢者
  - 可扩展健康检查：RegisterCheck 注册任意 HealthCheck 实现
*/
package handlers
