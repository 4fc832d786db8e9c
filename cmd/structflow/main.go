// structflow 命令行入口
//
// 使用方法:
//
//	structflow serve --config config.yaml              # 启动 HTTP 服务
//	structflow invoke --request req.yaml               # 单次结构化调用
//	structflow invoke --request req.yaml --inputs in.jsonl --concurrency 4
//	structflow strictify --schema schema.json          # 输出严格化后的 schema
//	structflow prompts list                            # 查看提示词目录
//	structflow prompts push llm-retry --file retry.txt # 发布到远程注册表
//	structflow migrate up                              # 审计表迁移
//	structflow version

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/structflow/config"
	"github.com/BaSui01/structflow/internal/telemetry"
)

// 构建时注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run 返回进程退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(args[1:], stderr)
	case "invoke":
		err = runInvoke(args[1:], stdout, stderr)
	case "strictify":
		err = runStrictify(args[1:], stdout)
	case "prompts":
		err = runPrompts(args[1:], stdout, stderr)
	case "migrate":
		err = runMigrate(args[1:], stdout, stderr)
	case "health":
		err = runHealthCheck(args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// commonFlags 是各子命令共享的配置覆盖参数
type commonFlags struct {
	configPath string
	provider   string
	model      string
	baseURL    string
	logLevel   string
}

func registerCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.configPath, "config", "", "Path to config file (YAML)")
	fs.StringVar(&c.provider, "provider", "", "LLM provider preset (openai, deepseek, qwen, ...)")
	fs.StringVar(&c.model, "model", "", "Model name")
	fs.StringVar(&c.baseURL, "base-url", "", "OpenAI-compatible base URL")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	return c
}

// load 依次应用默认值、配置文件、环境变量和命令行覆盖
func (c *commonFlags) load() (*config.Config, error) {
	loader := config.NewLoader()
	if c.configPath != "" {
		loader = loader.WithConfigPath(c.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	override := &config.Config{
		LLM: config.LLMConfig{Provider: c.provider, Model: c.model, BaseURL: c.baseURL},
		Log: config.LogConfig{Level: c.logLevel},
	}
	if err := cfg.Merge(override); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "structflow %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Module:     %s\n", telemetry.Version())
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `structflow - structured-output enforcement for LLM calls

Usage:
  structflow <command> [options]

Commands:
  serve      Start the HTTP server
  invoke     Run a structured invocation (single or batch)
  strictify  Print the strict form of a JSON schema
  prompts    List the prompt catalogue or push a prompt to the registry
  migrate    Audit database migrations (up, down, status, version, goto, force, reset)
  health     Check a running server
  version    Show version information

Common options:
  --config <path>     Path to configuration file (YAML)
  --provider <name>   LLM provider preset
  --model <name>      Model name
  --base-url <url>    OpenAI-compatible base URL
  --log-level <lvl>   Log level

Environment variables use the STRUCTFLOW_ prefix, e.g. STRUCTFLOW_LLM_API_KEY.
`)
}

// initLogger 按日志配置构建 zap logger
func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
