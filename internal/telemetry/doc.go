// Package telemetry 封装 OpenTelemetry SDK 初始化，集中配置
// TracerProvider 与 MeterProvider（OTLP gRPC 导出）。
// 遥测禁用时保持全局 noop 实现，不连接任何外部服务。
package telemetry
