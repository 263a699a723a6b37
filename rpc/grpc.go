package rpc

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/wfunc/cardduel/logger"
)

// HealthService is the name reported for the coordinator in the gRPC health protocol.
const HealthService = "cardduel.Coordinator"

// HealthServer exposes the standard gRPC health service for orchestrators.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
}

func NewHealthServer(addr string) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	server := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(server, hs)
	reflection.Register(server)

	h := &HealthServer{server: server, health: hs, listener: listener}
	h.SetServing(false)
	return h, nil
}

func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

// Start serves until Stop is called.
func (h *HealthServer) Start() {
	logger.Log.Infof("gRPC health server listening on %s", h.Addr())
	if err := h.server.Serve(h.listener); err != nil {
		logger.Log.Errorf("gRPC health server: %v", err)
	}
}

// SetServing flips both the overall and the coordinator status.
func (h *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
