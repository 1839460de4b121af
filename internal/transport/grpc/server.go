package grpcx

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check name of the signaling service.
const ServiceName = "meeting.Signaling"

// Admin is the internal gRPC listener: standard health checks and reflection.
type Admin struct {
	Server *grpc.Server
	health *health.Server
}

func NewAdmin(opts ...grpc.ServerOption) *Admin {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	}, opts...)

	s := grpc.NewServer(opts...)
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	reflection.Register(s)

	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Admin{Server: s, health: h}
}

// SetServing flips both the overall and the signaling service status.
func (a *Admin) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	a.health.SetServingStatus("", st)
	a.health.SetServingStatus(ServiceName, st)
}

// Stop marks everything NOT_SERVING for good and drains in-flight calls.
func (a *Admin) Stop() {
	a.health.Shutdown()
	a.Server.GracefulStop()
}
