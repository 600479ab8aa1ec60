package server

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for the API.
const ServiceName = "redactor.v1.Redaction"

// NewGRPCHealthServer returns a gRPC server exposing only the standard health
// service. Serving status follows check, polled every interval until ctx is done.
func NewGRPCHealthServer(ctx context.Context, check HealthFunc, interval time.Duration, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if check != nil {
			cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := check(cctx)
			cancel()
			if err != nil {
				logger.Warn("health check failed", "error", err)
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(ServiceName, status)
	}
	update()

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-t.C:
				update()
			}
		}
	}()
	return srv
}
