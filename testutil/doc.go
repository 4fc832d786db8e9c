/*
Package testutil 提供 structflow 各包测试共享的辅助函数。

  - 上下文：TestContext / TestContextWithTimeout / CancelledContext
  - 断言：AssertJSONEqual / AssertMessagesEqual
  - 数据：MustJSON / MustParseJSON

子包 testutil/mocks 提供 llm.Provider 的模拟实现 MockProvider，
支持固定响应、按序脚本响应、延迟与错误注入，并记录每次调用的请求。
*/
package testutil
