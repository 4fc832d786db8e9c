/*
Package main 提供 structflow 的命令行与 HTTP 服务入口。

# 概述

cmd/structflow 是组合根：按配置装配 Provider（重试、指标包装）、
提示词目录（本地 YAML + 可选 Redis 注册表）、结构化调用引擎、
尝试审计（GORM）与 OpenTelemetry/Prometheus 观测组件。

# 子命令

  - serve      — HTTP 服务：POST /v1/invoke、POST /v1/strictify、
    GET /v1/prompts、GET /health、GET /metrics
  - invoke     — 单次调用，或以 JSONL 输入并发批量调用
  - strictify  — 输出 schema 的严格形式
  - prompts    — 查看目录 / 发布模板到注册表
  - migrate    — 审计表迁移（golang-migrate）
  - health、version

# 中间件

Recovery、RequestID（同时作为上游请求的 trace id）、SecurityHeaders、
OTelTracing、MetricsMiddleware、RequestLogger、JWTAuth（HS256，写入租户）、
RateLimiter（按租户或 IP）。

# 错误映射

schema 与配置类错误返回 400，PROMPT_NOT_FOUND 返回 404，
重试耗尽、解析失败和空响应返回 422，上游调用失败返回 502。
*/
package main
