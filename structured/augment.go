package structured

import (
	"context"
	"strings"

	"github.com/BaSui01/structflow/llm"
	"github.com/BaSui01/structflow/prompt"
	"github.com/BaSui01/structflow/types"
)

// RetryPromptKey 重试提示词在目录中的键
const RetryPromptKey = "llm_retry"

// RetryContext 重试提示词需要的失败信息
type RetryContext struct {
	PreviousResponse   string
	ErrorMessage       string
	FormatInstructions string
}

// RetryAugmenter 把渲染后的重试提示词插入对话
type RetryAugmenter struct {
	prompts prompt.Source
	key     string
}

func NewRetryAugmenter(prompts prompt.Source) *RetryAugmenter {
	return &RetryAugmenter{prompts: prompts, key: RetryPromptKey}
}

// Instruction 渲染重试提示词
func (a *RetryAugmenter) Instruction(ctx context.Context, rc RetryContext) (string, error) {
	if a.prompts == nil {
		return "", types.Errorf(types.ErrPromptNotFound, "prompt %q not defined: no prompt source", a.key)
	}
	tpl, err := a.prompts.GetTemplate(ctx, a.key)
	if err != nil {
		return "", err
	}

	// 原始输出单独传入，不放进错误文本
	errMsg := rc.ErrorMessage
	if rc.PreviousResponse != "" {
		errMsg = strings.ReplaceAll(errMsg, rc.PreviousResponse, "")
	}

	text, err := llm.RenderTemplate(a.key, tpl, map[string]any{
		"previous_response":   rc.PreviousResponse,
		"error_message":       errMsg,
		"format_instructions": rc.FormatInstructions,
	})
	if err != nil {
		return "", types.Errorf(types.ErrPromptInvalid, "failed to render prompt %q", a.key).WithCause(err)
	}
	return text, nil
}

// Augment 返回 msgs 的副本，重试提示词作为 system 消息插在最后一条消息之前；
// 不修改 msgs
func (a *RetryAugmenter) Augment(ctx context.Context, msgs []llm.Message, rc RetryContext) ([]llm.Message, error) {
	text, err := a.Instruction(ctx, rc)
	if err != nil {
		return nil, err
	}
	instruction := llm.Message{Role: llm.RoleSystem, Content: text}

	out := make([]llm.Message, 0, len(msgs)+1)
	if len(msgs) == 0 {
		return append(out, instruction), nil
	}
	last := len(msgs) - 1
	out = append(out, msgs[:last]...)
	out = append(out, instruction, msgs[last])
	return out, nil
}
