package health

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/reporthub/backend-go/internal/logger"
)

// Server gRPC健康检查服务，实现标准grpc.health.v1协议
//
// 创建后处于NOT_SERVING状态，启动流程全部完成后由引导层调用SetServing。
// Kubernetes等编排系统可据此区分"进程存活"和"依赖就绪"。
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	service    string
	listener   net.Listener
}

// NewServer 创建健康检查服务，service为注册的服务名
func NewServer(service string) *Server {
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()

	// 初始状态为未就绪，覆盖空服务名（整体状态）和具体服务名
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	return &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		service:    service,
	}
}

// Start 在指定端口启动gRPC监听，Serve在后台goroutine中运行
func (s *Server) Start(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc health port %s: %w", port, err)
	}
	s.listener = lis

	go func() {
		logger.Info("gRPC health server started", zap.String("port", port))
		if err := s.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC health server exited", zap.Error(err))
		}
	}()

	return nil
}

// SetServing 标记服务就绪
func (s *Server) SetServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(s.service, healthpb.HealthCheckResponse_SERVING)
}

// SetNotServing 标记服务不可用，关闭流程开始时调用
func (s *Server) SetNotServing() {
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(s.service, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Stop 优雅停止gRPC服务，等待进行中的检查完成
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// Addr 返回实际监听地址，端口传0时用于测试
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
