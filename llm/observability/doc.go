/*
包 observability 为结构化输出调用提供链路追踪、审计与指标。

# 核心类型

  - Tracer：实现 structured.Tracer，每次尝试一个 OTel span，
    span 名即尝试名（重试为 "<name> - Retry N"），结束时写入 Exporter。
  - Exporter / GormExporter：尝试记录的批量审计导出，写入
    structflow_attempts 表，Flush 在关闭前调用。
  - Metrics / InstrumentedProvider：包装 llm.Provider，记录请求数、
    延迟、Token 与成本。
  - CostCalculator：按 provider:model 计价。
*/
package observability
