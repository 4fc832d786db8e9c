// Package structured 提供结构化输出的约束与重试引擎。
//
// 核心流程：
//   - Strictify 将任意 JSON Schema 收紧为严格模式（封闭对象、全部字段必填、
//     合并单成员 allOf、内联带兄弟键的 $ref、删除 null 默认值）
//   - Invoker 在调用前把严格 Schema 写入调用对象的 response_format 槽位，
//     对输出依次执行修复、校验、解码，失败时追加重试提示再次调用
//   - StructuredOutput[T] 在 Invoker 之上提供基于 Go 类型反射的泛型接口
//
// 观测通过 Tracer 接口接入，Tracer 的错误与 panic 不会影响调用结果。
package structured
