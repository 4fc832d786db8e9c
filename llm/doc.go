/*
包 llm 是 structflow 的模型接入层：统一的请求/响应模型、Provider 接口，
以及结构化输出引擎使用的调用对象 Chain。

# 核心类型

  - [Provider]：Completion / HealthCheck / Name
  - [ChatRequest] / [ChatResponse]：OpenAI 兼容的聊天请求与响应
  - [ResponseFormat] / [JSONSchemaFormat]：response_format 约束
  - [Error] / [ErrorCode]：带 HTTP 状态与可重试标记的 Provider 错误
  - [FormatSlot]：可替换的 response_format 槽位

# Chain

[Chain] 持有消息模板（text/template + sprig）和一个 Provider。
Render 把输入渲染为消息，Call 带上当前槽位里的 response_format 发起请求，
Fork 复制出拥有独立槽位的 Chain，供并发调用使用。

# 子包

  - llm/providers/openaicompat：OpenAI 兼容 HTTP Provider 与厂商预设
  - llm/retry：传输层重试包装
  - llm/observability：尝试级追踪、审计落库、OTel 指标与成本估算
*/
package llm
