// Package providers 提供 OpenAI 兼容协议的线格式类型与错误映射，
// 具体实现位于 openaicompat 子包。
package providers
