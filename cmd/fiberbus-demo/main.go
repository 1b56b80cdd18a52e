// Command fiberbus-demo wires a fiberbus.Bus to an HTTP /metrics endpoint
// and runs a small self-contained request/reply exchange on startup, so the
// library can be exercised end to end without a separate client.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chenxilol/fiberbus/internal/scheduler"
	"github.com/chenxilol/fiberbus/pkg/fiberbus"
)

var (
	addr      = flag.String("addr", ":8090", "address the metrics HTTP server listens on")
	qLength   = flag.Int("queue-len", 10, "default subscription mailbox capacity")
	namespace = flag.String("metrics-namespace", "fiberbus", "Prometheus metric namespace")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	bus := fiberbus.NewBus(
		fiberbus.WithQLength(*qLength),
		fiberbus.WithMetricsNamespace(*namespace),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(bus.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		stats := bus.Stats()
		fmt.Fprintf(w, "ok subscriptions=%d endpoints=%d connections=%d\n",
			stats.ActiveSubscriptions, stats.ActiveEndpoints, stats.ActiveConnections)
	})

	server := &http.Server{Addr: *addr, Handler: mux}

	rootScope := scheduler.NewScope(context.Background())
	runEchoDemo(bus, rootScope)

	go func() {
		slog.Info("metrics server listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down")

	rootScope.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

// runEchoDemo binds a long-lived "demo.echo" endpoint and issues one
// CallOp against it, logging the round trip. It demonstrates the admission
// lifecycle a real service would follow: Bind once, serve many calls.
func runEchoDemo(bus *fiberbus.Bus, scope *scheduler.Scope) {
	server := bus.Connect(scope)
	ep, err := server.Bind(fiberbus.Topic{"demo", "echo"})
	if err != nil {
		slog.Error("demo: bind failed", "error", err)
		return
	}

	scope.Go(func(ctx context.Context) {
		for {
			msg, err := ep.Recv(ctx)
			if err != nil {
				return
			}
			if _, err := server.PublishOne(msg.ReplyTo, msg.Payload); err != nil {
				slog.Warn("demo: echo reply failed", "error", err)
			}
		}
	})

	client := bus.Connect(scope)
	scope.Go(func(ctx context.Context) {
		callCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		reply, err := client.CallOp(callCtx, fiberbus.Topic{"demo", "echo"}, "hello")
		if err != nil {
			slog.Warn("demo: call failed", "error", err)
			return
		}
		slog.Info("demo: call round trip complete", "reply", reply.Payload)
	})
}
