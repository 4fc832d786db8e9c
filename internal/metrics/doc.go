/*
包 metrics 提供基于 Prometheus 的服务指标采集。

Collector 覆盖 HTTP 请求、结构化输出尝试与数据库连接池三类指标。
它同时实现 structured.Tracer，可直接挂到 Invoker 上按 outcome
统计每次尝试；首轮与重试通过 kind 标签区分。
*/
package metrics
