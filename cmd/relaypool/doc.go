// Copyright (c) RelayPool Authors.
// Licensed under the MIT License.

/*
Package main 是 relaypool 的可执行入口。

单个二进制承担四件事：serve 启动调度服务，migrate 维护数据库
结构，health 从命令行探测运行中的实例，version 打印构建信息。

serve 起两个监听端口。业务端口挂调度与运维 API，外层由中间件链
包住：panic 恢复、请求 ID、安全响应头、访问日志、Prometheus 采样，
再按需叠加 CORS、IP 限流与 OpenTelemetry 追踪。调度端点凭
X-Service-Token 放行，解除限流等运维端点要求 JWT 并按操作者限流。
指标端口只暴露 /metrics，与业务流量隔离。

收到 SIGINT/SIGTERM 后按依赖倒序收尾：先停 HTTP 入口，等在途
请求排空，再关调度器、存储与遥测导出。

版本信息（Version、BuildTime、GitCommit）在构建时经 -ldflags 注入，
/version 端点与 version 子命令共用同一组值。
*/
package main
