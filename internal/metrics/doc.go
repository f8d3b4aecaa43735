// 版权所有 2025 RelayPool Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、调度、限流与数据库四大维度。

# 概述

Collector 在构造时通过 promauto 一次性注册全部指标向量，
调用方只需持有 Collector 并调用 Record* 方法，无需接触 Registry。
指标名统一带 namespace 前缀，label 维度固定，便于 Grafana
面板与告警规则直接引用。

# 核心类型

  - Collector：指标收集器，按业务域持有 CounterVec、HistogramVec
    与 GaugeVec，并以 Record* 方法暴露写入口。

# 主要能力

  - HTTP 指标：请求总数、耗时与请求/响应体大小直方图，按
    method/path/status 分组，状态码先归并为 2xx/3xx/4xx/5xx
    再打 label，避免基数爆炸。
  - 调度指标：选择总数与耗时、候选池大小，按 platform/strategy/
    outcome 分组；粘性会话命中与未命中计数；策略降级计数。
  - 限流指标：账户触发限流与解除限流的事件计数，按 platform/action
    分组。
  - 数据库指标：活跃/空闲连接数 Gauge，按 database 分组。
*/
package metrics
