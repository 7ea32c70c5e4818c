package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend/local"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
)

// backendsim serves the normalization and batch contracts from the in-process
// implementations, optionally failing a fraction of calls with 503 so retry
// behaviour can be exercised end to end.
func main() {
	addr := flag.String("addr", ":8081", "listen address")
	latency := flag.Duration("latency", 0, "simulated processing latency per call")
	failRate := flag.Float64("fail-rate", 0, "fraction of calls answered with 503 (0..1)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	flag.Parse()

	logger := common.NewLogger(*logLevel, "text", os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var handler http.Handler = backend.NewHandler(
		local.NewNormalizer(*latency, logger),
		local.NewBatchProcessor(*latency, logger),
		logger,
	)
	if *failRate > 0 {
		handler = flaky(handler, *failRate, logger)
	}

	srv := &http.Server{Addr: *addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("backendsim listening", "addr", *addr, "latency", *latency, "fail_rate", *failRate)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
}

func flaky(next http.Handler, rate float64, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rand.Float64() < rate {
			logger.Warn("backendsim.injected_failure", "path", r.URL.Path, "req_id", r.Header.Get("X-Request-ID"))
			http.Error(w, "injected failure", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}
