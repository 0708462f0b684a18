// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 DuoChat 提供集中式的 TracerProvider 和 MeterProvider 配置，
// 并提供构建版本号。遥测禁用时使用 noop 实现，不连接任何外部服务。
package telemetry
