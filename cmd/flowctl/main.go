// Command flowctl runs and inspects durable workflow runs.
//
// Usage:
//
//	flowctl [-config flowstate.yaml] run [-run-id ID] -url URL [-prompt TEXT]
//	flowctl [-config flowstate.yaml] status -run-id ID
//
// run executes a two-node workflow: an HTTP fetch followed by a model call
// that summarizes the fetched body. Re-running with the same -run-id
// resumes from the last checkpoint; a completed run is returned as is.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dshills/flowstate/config"
	"github.com/dshills/flowstate/graph"
	"github.com/dshills/flowstate/graph/emit"
	"github.com/dshills/flowstate/graph/model"
	"github.com/dshills/flowstate/graph/model/vendors"
	"github.com/dshills/flowstate/graph/tool"
)

// maxPromptBody bounds how much fetched content is sent to the model.
const maxPromptBody = 8000

const defaultPrompt = "Summarize the following document in five bullet points."

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app holds the dependencies shared by subcommands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("flowctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "flowctl: %v\n", err)
		return 1
	}

	a := &app{cfg: cfg, logger: cfg.Logger(stderr), stdout: stdout}
	return a.dispatch(ctx, fs.Args(), stderr)
}

func (a *app) dispatch(ctx context.Context, args []string, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: flowctl [-config file] <run|status> [flags]")
		return 2
	}

	var err error
	switch args[0] {
	case "run":
		err = a.runCmd(ctx, args[1:], stderr)
	case "status":
		err = a.statusCmd(ctx, args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "flowctl: unknown command %q\n", args[0])
		return 2
	}

	var wfErr *graph.WorkflowError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 2
	case errors.As(err, &wfErr):
		a.logger.Error().Err(err).Str("run_id", wfErr.RunID).Msg("run failed; re-run with the same -run-id to resume")
		return 1
	default:
		a.logger.Error().Err(err).Msg("flowctl failed")
		return 1
	}
}

func (a *app) runCmd(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run-id", "", "run ID (generated when empty)")
	url := fs.String("url", "", "document to fetch")
	prompt := fs.String("prompt", defaultPrompt, "instruction for the model")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		*runID = uuid.NewString()
	}

	st, closer, err := a.cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	registry := a.cfg.Registry()
	defer func() { _ = registry.Close() }()
	adapter, err := a.modelAdapter(ctx, registry)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(promRegistry)
	if addr := a.cfg.Metrics.Addr; addr != "" {
		srv := a.serveMetrics(addr, promRegistry)
		defer func() { _ = srv.Close() }()
	}

	opts, err := a.cfg.EngineOptions()
	if err != nil {
		return err
	}
	emitters := []emit.Emitter{emit.NewLogEmitter(a.logger)}
	if out := a.cfg.Trace.Output; out != "" {
		shutdown, err := startTracing(out, stderr)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()
		emitters = append(emitters, emit.NewOTelEmitter(otel.Tracer("flowctl")))
	}
	opts = append(opts,
		graph.WithEmitter(emit.Multi(emitters...)),
		graph.WithMetrics(metrics),
		graph.WithLogger(a.logger),
	)
	engine := graph.New(st, opts...)

	costs := graph.NewCostTracker()
	g := summarizeGraph(adapter, a.cfg.Model.Name, costs)

	a.logger.Info().Str("run_id", *runID).Str("url", *url).Msg("starting run")
	state, err := engine.Run(ctx, graph.RunRequest{
		RunID:   *runID,
		Graph:   g,
		Context: map[string]any{"url": *url, "prompt": *prompt},
	})
	if err != nil {
		var wfErr *graph.WorkflowError
		if !errors.As(err, &wfErr) {
			return err
		}
	}

	if calls := costs.Calls(*runID); len(calls) > 0 {
		a.logger.Info().Msg(costs.Summary(*runID))
	}
	if printErr := a.printState(state); printErr != nil {
		return printErr
	}
	return err
}

func (a *app) statusCmd(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	runID := fs.String("run-id", "", "run ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return errors.New("status: -run-id is required")
	}

	st, closer, err := a.cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	snap, found, err := st.Load(ctx, *runID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("run %s not found", *runID)
	}
	a.logger.Debug().Int("revision", snap.Revision).Time("updated_at", snap.UpdatedAt).Msg("loaded run")
	return a.printState(snap.State)
}

func (a *app) modelAdapter(ctx context.Context, registry *vendors.Registry) (model.Adapter, error) {
	if a.cfg.Model.Vendor == "" {
		return nil, errors.New("model.vendor is required (set it in the config file or FLOWSTATE_MODEL_VENDOR)")
	}
	return registry.Adapter(ctx, model.Vendor(a.cfg.Model.Vendor))
}

func (a *app) serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}

// startTracing installs a global tracer provider exporting spans to output
// ("stderr" or a file path). The returned func flushes and releases it.
func startTracing(output string, stderr io.Writer) (func(context.Context) error, error) {
	w := stderr
	var f *os.File
	if output != "stderr" {
		var err error
		if f, err = os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err != nil {
			return nil, fmt.Errorf("open trace output: %w", err)
		}
		w = f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "flowctl"))),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if f != nil {
			err = errors.Join(err, f.Close())
		}
		return err
	}, nil
}

func (a *app) printState(state graph.RunState) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(state)
}

// summarizeGraph fetches the run's "url" and asks the model to apply the
// run's "prompt" to the response body.
func summarizeGraph(adapter model.Adapter, modelName string, costs *graph.CostTracker) graph.Graph {
	fetch := graph.ToolNode("fetch", tool.NewHTTPTool(), func(in graph.Input) (map[string]any, error) {
		url, _ := in.Context["url"].(string)
		if url == "" {
			return nil, errors.New("run context has no url")
		}
		return map[string]any{"url": url, "method": "GET"}, nil
	}).WithTimeout(time.Minute)

	summarize := graph.ModelNode("summarize", adapter, modelName, func(in graph.Input) (model.Request, error) {
		out, ok := in.Output("fetch")
		if !ok {
			return nil, errors.New("fetch output missing")
		}
		fetched, _ := out.(map[string]any)
		body, _ := fetched["body"].(string)
		body = truncateUTF8(body, maxPromptBody)
		prompt, _ := in.Context["prompt"].(string)

		req := model.NewRequest("",
			model.Message{Role: model.RoleSystem, Content: prompt},
			model.Message{Role: model.RoleUser, Content: body},
		)
		req["max_tokens"] = 1024
		return req, nil
	}, graph.WithCostTracker(costs)).WithTimeout(2 * time.Minute)

	return graph.Graph{fetch, summarize}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
