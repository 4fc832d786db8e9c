/*
Package types 提供 structflow 的全局共享类型定义。

types 是最底层的公共包，不依赖任何内部包。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 Path、Raw、Attempts、Retryable 标记

# 主要能力

  - 错误工具链：AsError / IsErrorCode / IsRetryable / GetErrorCode
  - errors.Is 按错误码匹配
  - WithTraceID / WithTenantID：请求级上下文值，Provider 透传 trace ID
*/
package types
