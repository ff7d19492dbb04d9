package httpapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"trustcore.org/internal/obs"
)

// GRPC bundles the gRPC server with the standard health service, backed by
// the same readiness probe as /readyz.
type GRPC struct {
	Server *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCServer registers the grpc.health.v1 service.
func NewGRPCServer(rp ReadyProbe) *GRPC {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &GRPC{Server: srv, health: hs, probe: rp}
}

// UpdateHealth refreshes the health status from the probe. Intended to run
// periodically from the background sweeper.
func (g *GRPC) UpdateHealth(ctx context.Context) {
	if err := g.probe.Check(ctx); err != nil {
		obs.SetReady(false)
		g.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	g.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// Stop gracefully stops the server.
func (g *GRPC) Stop() {
	g.health.Shutdown()
	g.Server.GracefulStop()
}
