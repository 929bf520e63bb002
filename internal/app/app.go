package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	healthcheck "github.com/Cal9233/genthrust-repairs/internal/health"
	"github.com/Cal9233/genthrust-repairs/internal/httpapi"
)

const shutdownTimeout = 5 * time.Second

// Run поднимает HTTP API, сервер метрик и gRPC health и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	grpcMetrics := promgrpc.NewServerMetrics()
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)
	grpcSink := newGRPCHealthSink(healthServer, domain.BackendRelational, domain.BackendWorkbook)

	deps, err := NewDependencies(ctx, cfg, prometheus.DefaultRegisterer, logger, grpcSink)
	if err != nil {
		return err
	}
	defer deps.Close()

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	var workers sync.WaitGroup
	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer func() {
		stopWorkers()
		workers.Wait()
	}()
	workers.Add(1)
	go func() {
		defer workers.Done()
		deps.Monitor.Run(workersCtx)
	}()
	if deps.Notifier != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			deps.Notifier.Run(workersCtx)
		}()
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, deps.Health)
	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewHandler(deps.Service, httpapi.WithLogger(logger.WithField("layer", "http"))).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health слушает %s", cfg.GRPCAddr)
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем серверы")
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(apiSrv, logger)
		stopGRPC(grpcServer, healthServer, logger)
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// stopGRPC останавливает gRPC сервер, по таймауту принудительно.
func stopGRPC(server *grpc.Server, healthServer *health.Server, logger *log.Entry) {
	healthServer.Shutdown()
	stoppedCh := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stoppedCh)
	}()
	select {
	case <-stoppedCh:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/readyz, %s/livez", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
