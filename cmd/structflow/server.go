package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/structflow/internal/server"
	"github.com/BaSui01/structflow/structured"
	"github.com/BaSui01/structflow/types"
)

const maxRequestBody = 4 << 20

var apiRoutes = []string{"/v1/invoke", "/v1/strictify", "/v1/prompts", "/health", "/metrics"}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Audit   string `json:"audit,omitempty"`
}

func runServe(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := registerCommonFlags(fs)
	certFile := fs.String("tls-cert", "", "TLS certificate file")
	keyFile := fs.String("tls-key", "", "TLS key file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appDeps{})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn("shutdown finished with errors", zap.Error(err))
		}
	}()
	go a.recordDBStats(ctx, 15*time.Second)

	srv := server.NewManager(newHandler(ctx, a, prometheus.DefaultGatherer), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	if *certFile != "" {
		err = srv.StartTLS(*certFile, *keyFile)
	} else {
		err = srv.Start()
	}
	if err != nil {
		return err
	}
	logger.Info("structflow started",
		zap.String("addr", srv.Addr()),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model),
	)
	return srv.WaitForShutdown(ctx)
}

// newHandler 组装路由与中间件；gatherer 为 /metrics 的数据来源
func newHandler(ctx context.Context, a *app, gatherer prometheus.Gatherer) http.Handler {
	h := &handler{app: a}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/invoke", h.handleInvoke)
	mux.HandleFunc("POST /v1/strictify", h.handleStrictify)
	mux.HandleFunc("GET /v1/prompts", h.handlePrompts)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	cfg := a.cfg.Server
	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(a.collector, apiRoutes),
		RequestLogger(a.logger),
		JWTAuth(cfg.JWTSecret, []string{"/health", "/metrics"}, a.logger),
		RateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
}

type handler struct {
	app *app
}

func (h *handler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := req.validate(); err != nil {
		h.writeEngineError(w, err)
		return
	}
	schema, err := req.schema()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	res, err := h.app.invoke(r.Context(), h.app.newChain(req.Name, req.Messages), schema, req.Input)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) handleStrictify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	strict, err := structured.StrictifyAny(body)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, strict)
}

func (h *handler) handlePrompts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.app.prompts.List())
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "healthy", Version: Version}
	if h.app.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		resp.Audit = "ok"
		if err := h.app.pool.Ping(ctx); err != nil {
			// 审计库只影响尝试日志，服务本身仍可用
			resp.Audit = "unavailable"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) writeEngineError(w http.ResponseWriter, err error) {
	te, ok := types.AsError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			writeError(w, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
			return
		}
		h.app.logger.Error("unclassified error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeJSON(w, statusFor(te.Code), errorBody{Error: *newErrorDetail(te)})
}

// statusFor 将错误码映射为 HTTP 状态码
func statusFor(code types.ErrorCode) int {
	switch code {
	case types.ErrSchema, types.ErrUnsupportedSchema, types.ErrSchemaResolution,
		types.ErrConfigInvalid, types.ErrPromptInvalid:
		return http.StatusBadRequest
	case types.ErrPromptNotFound:
		return http.StatusNotFound
	case types.ErrRetriesExhausted, types.ErrParse, types.ErrEmptyResponse:
		return http.StatusUnprocessableEntity
	case types.ErrCall:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
