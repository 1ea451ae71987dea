package grpc

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	sdkgrpc "github.com/mama165/sdk-go/grpc"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"job-chat-service/internal/observability"
)

// Check is one dependency probed by the health server.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthServer serves grpc.health.v1 for the chat service. Every check is
// reported under its own name and the aggregate under the empty service name.
type HealthServer struct {
	server   *gogrpc.Server
	health   *health.Server
	checks   []Check
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	status map[string]string
}

// NewHealthServer builds the gRPC server. Nothing is served until Serve.
func NewHealthServer(log *slog.Logger, interval time.Duration, checks ...Check) *HealthServer {
	s := gogrpc.NewServer(
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
		gogrpc.ChainUnaryInterceptor(
			sdkgrpc.UnaryLoggingInterceptor(log),
			observability.GRPCServerMetricsUnaryInterceptor(),
		),
	)
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)

	timeout := interval / 2
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &HealthServer{
		server:   s,
		health:   h,
		checks:   checks,
		interval: interval,
		timeout:  timeout,
		log:      log,
		status:   make(map[string]string),
	}
}

// CheckNow probes every dependency once and publishes the result.
func (h *HealthServer) CheckNow(ctx context.Context) bool {
	healthy := true
	results := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := check.Ping(checkCtx)
		cancel()

		st := healthpb.HealthCheckResponse_SERVING
		results[check.Name] = "ok"
		if err != nil {
			healthy = false
			st = healthpb.HealthCheckResponse_NOT_SERVING
			results[check.Name] = err.Error()
			h.log.Warn("health check failed", "check", check.Name, "error", err)
		}
		h.health.SetServingStatus(check.Name, st)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", overall)

	h.mu.Lock()
	h.status = results
	h.mu.Unlock()
	return healthy
}

// Snapshot returns the last check results keyed by check name.
func (h *HealthServer) Snapshot() (bool, map[string]string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	healthy := true
	out := make(map[string]string, len(h.status))
	for name, result := range h.status {
		out[name] = result
		if result != "ok" {
			healthy = false
		}
	}
	return healthy, out
}

// Run checks immediately and then every interval until ctx is done.
func (h *HealthServer) Run(ctx context.Context) {
	h.CheckNow(ctx)
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.CheckNow(ctx)
		}
	}
}

// Serve blocks serving gRPC on lis.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
