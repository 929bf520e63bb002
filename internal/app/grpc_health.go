package app

import (
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// grpcServiceName — имя сервиса бэкенда в gRPC health.
func grpcServiceName(backend domain.Backend) string {
	return "repairs." + string(backend)
}

// grpcHealthSink переносит результаты проб в gRPC health server.
// Общий статус ("") — SERVING, пока жив хотя бы один бэкенд.
type grpcHealthSink struct {
	server *health.Server

	mu sync.Mutex
	up map[domain.Backend]bool
}

func newGRPCHealthSink(server *health.Server, backends ...domain.Backend) *grpcHealthSink {
	s := &grpcHealthSink{server: server, up: make(map[domain.Backend]bool, len(backends))}
	for _, backend := range backends {
		server.SetServingStatus(grpcServiceName(backend), healthpb.HealthCheckResponse_UNKNOWN)
	}
	// До первой пробы сервис считается рабочим: заказы обслуживает арбитр.
	server.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// SetBackendUp реализует monitor.StatusSink.
func (s *grpcHealthSink) SetBackendUp(backend domain.Backend, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.up[backend] = up
	s.server.SetServingStatus(grpcServiceName(backend), servingStatus(up))

	anyUp := false
	for _, v := range s.up {
		anyUp = anyUp || v
	}
	s.server.SetServingStatus("", servingStatus(anyUp))
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
