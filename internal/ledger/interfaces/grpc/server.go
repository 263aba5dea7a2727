// Package grpc 账本的 gRPC 入口：标准健康检查与反射，健康状态随依赖探活更新
package grpc

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/wyfcoding/investledger/pkg/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName 健康检查中的服务名
const ServiceName = "investledger.Ledger"

// Check 依赖探活，例如数据库与 Redis 的 Ping
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Server gRPC 服务
type Server struct {
	srv    *grpc.Server
	health *health.Server
	checks []Check
	logger *slog.Logger
}

// NewServer 创建服务并注册健康检查与反射
func NewServer(logger *slog.Logger, checks ...Check) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.GRPCRecoveryInterceptor(),
		middleware.GRPCLoggingInterceptor(),
	))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &Server{srv: srv, health: hs, checks: checks, logger: logger}
}

// Serve 阻塞直到 Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC server starting", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// Probe 执行一次探活并更新健康状态，返回是否全部正常
func (s *Server) Probe(ctx context.Context) bool {
	ok := true
	for _, c := range s.checks {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := c.Ping(pingCtx)
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "dependency unhealthy", "dependency", c.Name, "error", err)
			ok = false
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return ok
}

// WatchHealth 按 interval 周期探活直到 ctx 结束
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) error {
	s.Probe(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Stop 标记下线并优雅关闭
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
