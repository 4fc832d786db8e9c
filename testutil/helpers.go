// 通用测试辅助函数
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertJSONEqual(t, want, got)
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/structflow/llm"
)

// TestContext 返回带 30s 超时的上下文，测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertJSONEqual 比较两个值的 JSON 表示，忽略键顺序
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()
	assert.JSONEq(t, MustJSON(expected), MustJSON(actual))
}

// AssertMessagesEqual 只比较角色与内容
func AssertMessagesEqual(t *testing.T, expected, actual []llm.Message) {
	t.Helper()
	if !assert.Len(t, actual, len(expected)) {
		return
	}
	for i := range expected {
		assert.Equal(t, expected[i].Role, actual[i].Role, "message[%d] role", i)
		assert.Equal(t, expected[i].Content, actual[i].Content, "message[%d] content", i)
	}
}

// MustJSON 序列化失败时 panic；[]byte 与 json.RawMessage 原样返回
func MustJSON(v any) string {
	switch b := v.(type) {
	case json.RawMessage:
		return string(b)
	case []byte:
		return string(b)
	case string:
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func MustParseJSON[T any](s string) T {
	var v T
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		panic(err)
	}
	return v
}
