// Command goworkerd is a small demo/reference host for the goworker
// facade: it starts a pool, exposes /status and /health the way the
// teacher's orchestrator daemon does, and re-execs itself as a worker
// when spawned with --go-worker=true. Real applications generally embed
// package goworker directly instead of shelling out to this binary; it
// exists to exercise TransportSubprocess end-to-end and as a worked
// example of wiring Start with godotenv-sourced configuration.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hackstrix/goworker"
	"github.com/hackstrix/goworker/pool"
)

func main() {
	for _, a := range os.Args[1:] {
		if a == "--go-worker=true" {
			goworker.RunWorker()
			return
		}
	}

	_ = godotenv.Load()

	minWorkers := flag.Int("min-workers", 1, "minimum (starting) number of workers")
	maxWorkers := flag.Int("max-workers", 4, "maximum number of workers (auto-scaling ceiling)")
	port := flag.Int("port", 8080, "daemon listen port")
	transportFlag := flag.String("transport", "thread", "worker transport: thread or subprocess")
	policyFlag := flag.String("policy", "least-time", "dispatch policy: least-time or round-robin")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting goworkerd", "min_workers", *minWorkers, "max_workers", *maxWorkers, "port", *port, "transport", *transportFlag)

	opts := []goworker.Option{
		goworker.WithMin(*minWorkers),
		goworker.WithMax(*maxWorkers),
		goworker.WithLogger(logger),
	}
	switch *transportFlag {
	case "subprocess":
		opts = append(opts, goworker.WithTransport(goworker.TransportSubprocess))
	case "thread":
	default:
		logger.Error("unknown transport, falling back to thread", "transport", *transportFlag)
	}
	switch *policyFlag {
	case "round-robin":
		opts = append(opts, goworker.WithPolicy(pool.PolicyRoundRobin))
	case "least-time":
	default:
		logger.Error("unknown policy, falling back to least-time", "policy", *policyFlag)
	}

	if err := goworker.Start(opts...); err != nil {
		logger.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"workers":    goworker.Workers(),
			"main_thread": goworker.IsMainThread(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := goworker.Terminate(ctx); err != nil {
			logger.Error("error during shutdown", "error", err)
		}
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("goworkerd listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
