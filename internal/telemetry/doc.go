// Package telemetry 负责 OpenTelemetry SDK 的装配：
// 按配置构建 OTLP/gRPC 的 trace 与 metric exporter，注册全局
// TracerProvider、MeterProvider 和 W3C 传播器。
// 遥测关闭时不建立任何外部连接，全局 provider 保持 noop。
package telemetry
