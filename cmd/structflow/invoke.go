package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tidwall/pretty"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/structflow/llm"
	"github.com/BaSui01/structflow/structured"
	"github.com/BaSui01/structflow/types"
)

// invokeRequest 是 POST /v1/invoke 与 `structflow invoke` 共用的请求体
type invokeRequest struct {
	Name     string                `json:"name" yaml:"name"`
	Messages []llm.MessageTemplate `json:"messages" yaml:"messages"`
	// 为空时进入无 schema 模式，返回第一个非空文本
	Schema json.RawMessage `json:"schema,omitempty" yaml:"-"`
	Input  map[string]any  `json:"input,omitempty" yaml:"input"`
}

type attemptView struct {
	Number     int    `json:"number"`
	Name       string `json:"name"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type invokeResponse struct {
	InvocationID string          `json:"invocation_id"`
	Value        json.RawMessage `json:"value,omitempty"`
	Text         string          `json:"text,omitempty"`
	Attempts     []attemptView   `json:"attempts"`
}

func (r *invokeRequest) validate() error {
	if len(r.Messages) == 0 {
		return types.NewError(types.ErrConfigInvalid, "request needs at least one message template")
	}
	if r.Name == "" {
		r.Name = "invoke"
	}
	return nil
}

// schema 解析请求里的 schema；缺少 title 时由引擎在首次调用前报 SCHEMA_ERROR
func (r *invokeRequest) schema() (*structured.JSONSchema, error) {
	raw := bytes.TrimSpace(r.Schema)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	s, err := structured.FromJSON(raw)
	if err != nil {
		return nil, types.NewError(types.ErrUnsupportedSchema, "invalid schema document").WithCause(err)
	}
	return s, nil
}

// invoke 在 chain 上执行一次结构化调用并记录结果指标
func (a *app) invoke(ctx context.Context, chain *llm.Chain, schema *structured.JSONSchema, input map[string]any) (*invokeResponse, error) {
	res, err := a.invoker.Invoke(ctx, chain, schema, input)
	if err != nil {
		code := types.GetErrorCode(err)
		if code == "" {
			code = "UNKNOWN"
		}
		a.collector.RecordInvocation(string(code))
		return nil, err
	}
	a.collector.RecordInvocation("ok")

	out := &invokeResponse{InvocationID: res.InvocationID, Attempts: make([]attemptView, 0, len(res.Attempts))}
	if schema != nil {
		out.Value = res.JSON
	} else {
		out.Text = res.Text
	}
	for _, at := range res.Attempts {
		v := attemptView{Number: at.Number, Name: at.Name, Outcome: string(at.Outcome), DurationMS: at.Duration.Milliseconds()}
		if at.Err != nil {
			v.Error = at.Err.Error()
		}
		out.Attempts = append(out.Attempts, v)
	}
	return out, nil
}

// batchItem 是批量模式下单条输入的结果
type batchItem struct {
	Index  int             `json:"index"`
	Result *invokeResponse `json:"result,omitempty"`
	Error  *errorDetail    `json:"error,omitempty"`
}

// invokeBatch 并发执行多组输入；每个任务使用 Fork 出的独立 Chain
func (a *app) invokeBatch(ctx context.Context, req invokeRequest, inputs []map[string]any, concurrency int) ([]batchItem, error) {
	schema, err := req.schema()
	if err != nil {
		return nil, err
	}
	base := a.newChain(req.Name, req.Messages)
	items := make([]batchItem, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, input := range inputs {
		g.Go(func() error {
			items[i].Index = i
			res, err := a.invoke(gctx, base.Fork(), schema, input)
			if err != nil {
				// 单条失败不影响其他输入
				items[i].Error = newErrorDetail(asTypesError(err))
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func asTypesError(err error) *types.Error {
	if te, ok := types.AsError(err); ok {
		return te
	}
	return types.NewError(types.ErrCall, err.Error()).WithCause(err)
}

func runInvoke(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("invoke", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	requestPath := fs.String("request", "", "Request file (YAML or JSON): name, messages, input")
	schemaPath := fs.String("schema", "", "JSON schema file; omit for schema-less mode")
	inputPath := fs.String("input", "", "JSON object file overriding the request input")
	inputsPath := fs.String("inputs", "", "JSONL file, one input object per line (batch mode)")
	concurrency := fs.Int("concurrency", 4, "Parallel invocations in batch mode")
	timeout := fs.Duration("timeout", 5*time.Minute, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *requestPath == "" {
		return fmt.Errorf("--request is required")
	}

	req, err := readInvokeRequest(*requestPath, *schemaPath, *inputPath)
	if err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appDeps{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			logger.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()

	if *inputsPath != "" {
		inputs, err := readJSONLines(*inputsPath)
		if err != nil {
			return err
		}
		items, err := a.invokeBatch(ctx, *req, inputs, *concurrency)
		if err != nil {
			return err
		}
		return writePretty(stdout, items)
	}

	schema, err := req.schema()
	if err != nil {
		return err
	}
	res, err := a.invoke(ctx, a.newChain(req.Name, req.Messages), schema, req.Input)
	if err != nil {
		return err
	}
	return writePretty(stdout, res)
}

func readInvokeRequest(requestPath, schemaPath, inputPath string) (*invokeRequest, error) {
	data, err := os.ReadFile(requestPath)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	req := &invokeRequest{}
	// JSON 请求可以内嵌 schema；YAML 请求的 schema 需要用 --schema 单独给出
	if json.Valid(data) {
		err = json.Unmarshal(data, req)
	} else {
		err = yaml.Unmarshal(data, req)
	}
	if err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	if schemaPath != "" {
		if req.Schema, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("read schema: %w", err)
		}
	}
	if inputPath != "" {
		b, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		req.Input = nil
		if err := json.Unmarshal(b, &req.Input); err != nil {
			return nil, fmt.Errorf("parse input: %w", err)
		}
	}
	return req, nil
}

func readJSONLines(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeJSONLines(f)
}

// decodeJSONLines 跳过空行，每个非空行必须是 JSON 对象
func decodeJSONLines(r io.Reader) ([]map[string]any, error) {
	var out []map[string]any
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(text, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if m == nil {
			return nil, fmt.Errorf("line %d: expected a JSON object", line)
		}
		out = append(out, m)
	}
	return out, sc.Err()
}

func writePretty(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(pretty.Pretty(data))
	return err
}
