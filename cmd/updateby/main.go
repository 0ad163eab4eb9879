package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	corecfg "github.com/aevon-lab/updateby/internal/core/config"
	"github.com/aevon-lab/updateby/internal/core/spec"
	"github.com/aevon-lab/updateby/internal/scenario"
	"github.com/aevon-lab/updateby/internal/updateby"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	scenarioPath := flag.String("scenario", "", "Path to the scenario to replay")
	planPath := flag.String("plan", "", "Plan file to use instead of the scenario's plan")
	interval := flag.Duration("interval", 0, "Delay between cycles (0 replays back to back)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090) until interrupted")
	flag.Parse()

	// 0. Load configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 1. Initialize logger
	slog.SetDefault(newLogger(cfg.Log, os.Stderr))
	slog.Info("Loaded config",
		"workers", cfg.Engine.Workers,
		"forward_incomplete", cfg.Engine.ForwardIncomplete,
		"plans_dir", cfg.PlanLoading.Dir,
		"plans", len(cfg.PlanLoading.Plans),
	)

	if *scenarioPath == "" {
		slog.Error("No scenario given (use -scenario)")
		os.Exit(2)
	}

	// 2. Load scenario and resolve its plan
	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		slog.Error("Failed to load scenario", "path", *scenarioPath, "error", err)
		os.Exit(1)
	}
	plan, err := resolvePlan(sc, *planPath, cfg.PlanLoading.Plans)
	if err != nil {
		slog.Error("Failed to resolve plan", "scenario", sc.Name, "error", err)
		os.Exit(1)
	}

	// 3. Build the handle
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, err := scenario.NewRunner(ctx, sc, plan,
		[]updateby.Option{updateby.WithEngineConfig(cfg.Engine)},
		scenario.WithInterval(*interval),
	)
	if err != nil {
		slog.Error("Failed to build update-by handle", "plan", plan.Name, "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	var shutdown func(context.Context) error
	if *metricsAddr != "" {
		shutdown = startMetricsServer(*metricsAddr)
	}

	// Signal handler -> stops the replay between cycles.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// 4. Replay
	err = runner.Run(ctx, func(rep scenario.Report) { printReport(os.Stdout, rep) })
	if err != nil {
		slog.Error("Replay stopped with error", "scenario", sc.Name, "error", err)
	}

	// 5. Keep metrics scrapeable until interrupted
	if shutdown != nil {
		if err == nil {
			slog.Info("Replay done, serving metrics until interrupted", "addr", *metricsAddr)
			<-ctx.Done()
		}
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := shutdown(shutdownCtx); serr != nil {
			slog.Error("Metrics server shutdown failed", "error", serr)
		}
		cancelShutdown()
	}
	if err != nil {
		runner.Close()
		os.Exit(1)
	}
}

// startMetricsServer serves /metrics on addr and returns its shutdown func.
func startMetricsServer(addr string) func(context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("Starting metrics server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()
	return srv.Shutdown
}

func resolvePlan(sc *scenario.Scenario, planPath string, plans []spec.Plan) (spec.Plan, error) {
	if planPath == "" {
		return sc.ResolvePlan(plans)
	}
	p, err := spec.LoadPlanFile(planPath)
	if err != nil {
		return spec.Plan{}, err
	}
	return *p, nil
}

func newLogger(c corecfg.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// printReport writes one line per changed output and per row error.
func printReport(w io.Writer, rep scenario.Report) {
	results := []*updateby.CycleResult{rep.Result}
	if rep.Sealed != nil {
		results = append(results, rep.Sealed)
	}
	changes := 0
	for _, res := range results {
		for _, c := range res.Changes {
			fmt.Fprintf(w, "cycle=%d column=%s key=%d value=%s\n", rep.Cycle, c.Column, c.Key, c.Value)
		}
		for _, e := range res.Errors {
			fmt.Fprintf(w, "cycle=%d column=%s key=%d error_kind=%s error=%q\n", rep.Cycle, e.Column, e.Key, e.Kind, e.Err)
		}
		changes += len(res.Changes)
	}
	fmt.Fprintf(w, "cycle=%d changes=%d duration=%s\n", rep.Cycle, changes, rep.Duration)
}
