package structured

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Repairer 把接近合法的 JSON 修复为合法 JSON；不会失败，无法恢复时原样返回输入
type Repairer interface {
	Repair(text string) string
}

// RepairFunc 函数适配为 Repairer
type RepairFunc func(string) string

func (f RepairFunc) Repair(text string) string { return f(text) }

// JSONRepairer 去掉 Markdown 代码块和前后说明文字，再修复缺失引号、多余逗号和截断的括号
type JSONRepairer struct{}

func NewJSONRepairer() *JSONRepairer { return &JSONRepairer{} }

var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// degenerate 修复结果不比原文多任何信息
var degenerate = map[string]bool{"": true, `""`: true, "{}": true}

func (r *JSONRepairer) Repair(text string) (out string) {
	defer func() {
		if recover() != nil {
			out = text
		}
	}()

	extracted := extractJSON(text)
	repaired, err := jsonrepair.JSONRepair(extracted)
	if err != nil {
		return text
	}
	repaired = strings.TrimSpace(repaired)
	// 提取出的内容本身就是合法 JSON（例如代码块里的 {}）时保留修复结果
	if degenerate[repaired] && !json.Valid([]byte(extracted)) {
		return text
	}
	return repaired
}

// extractJSON 从可能包在代码块或说明文字里的输出中取出 JSON
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```") {
		if m := fencePattern.FindStringSubmatch(response); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
		// 未闭合的代码块，通常是输出被截断
		if i := strings.Index(response, "```"); i >= 0 {
			rest := strings.TrimPrefix(response[i+3:], "json")
			return strings.TrimSpace(rest)
		}
	}

	obj := strings.Index(response, "{")
	arr := strings.Index(response, "[")
	open, closer := obj, "}"
	if obj < 0 || (arr >= 0 && arr < obj) {
		open, closer = arr, "]"
	}
	if open < 0 {
		return response
	}
	if end := strings.LastIndex(response, closer); end > open {
		return response[open : end+1]
	}
	// 没有闭合符号，保留开头之后的全部内容交给修复补全
	return response[open:]
}
