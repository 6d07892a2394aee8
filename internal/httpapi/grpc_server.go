package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/onixbyte/helix/internal/obs"
)

type readinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer publishes grpc.health.v1 status driven by the readiness probe.
type HealthServer struct {
	health    *health.Server
	readiness readinessChecker
	logger    *zap.Logger
}

// NewHealthServer starts in NOT_SERVING until the first Refresh.
func NewHealthServer(r readinessChecker, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HealthServer{health: health.NewServer(), readiness: r, logger: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(obs.ServiceName, status)
}

// Refresh runs the readiness probe once and records the outcome.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		h.logger.Warn("grpc health not serving", zap.Error(err))
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes status every interval until ctx is done, then marks the
// service as shutting down.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

// NewGRPCServer builds the gRPC server exposing the health service.
func NewGRPCServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.health)
	return s
}
