package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/structflow/prompt"
	"github.com/BaSui01/structflow/structured"
)

// runStrictify 读取 schema（文件或标准输入）并输出严格形式
func runStrictify(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("strictify", flag.ContinueOnError)
	schemaPath := fs.String("schema", "-", "JSON schema file, - for stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	if *schemaPath == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(*schemaPath)
	}
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	strict, err := structured.StrictifyAny(data)
	if err != nil {
		return err
	}
	return writePretty(stdout, strict)
}

func runPrompts(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: structflow prompts list|push <name> --file <path>")
	}
	switch args[0] {
	case "list":
		return runPromptsList(args[1:], stdout, stderr)
	case "push":
		return runPromptsPush(args[1:], stdout, stderr)
	default:
		return fmt.Errorf("unknown prompts subcommand: %s", args[0])
	}
}

func runPromptsList(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("prompts list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("path", "", "Prompt catalogue (YAML); empty uses the embedded catalogue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	local, err := prompt.NewFileSource(*path)
	if err != nil {
		return err
	}
	return printCatalog(stdout, prompt.NewManager(local).List())
}

func printCatalog(w io.Writer, cat prompt.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tREGISTRY PROMPT\tTEMPLATE")
	for _, key := range cat.Keys() {
		def := cat[key]
		registry := def.RegistryPrompt
		if registry == "" {
			registry = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, registry, firstLine(def.Template))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

// runPromptsPush 把模板发布到 Redis 注册表，版本号自增
func runPromptsPush(args []string, stdout, stderr io.Writer) error {
	if len(args) < 1 || strings.HasPrefix(args[0], "-") {
		return fmt.Errorf("usage: structflow prompts push <name> --file <path>")
	}
	name := args[0]

	fs := flag.NewFlagSet("prompts push", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	file := fs.String("file", "", "Template file")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("--file is required")
	}
	body, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	cfg.Prompts.Remote = true
	cfg.Prompts.Watch = false
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appDeps{})
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()
	if a.registry == nil {
		return fmt.Errorf("prompt registry at %s is not reachable", cfg.Redis.Addr)
	}

	rec, err := a.registry.Publish(ctx, name, string(body))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Published %s version %d\n", rec.Name, rec.Version)
	return nil
}

func runHealthCheck(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(stdout, body.Status)
	return nil
}
