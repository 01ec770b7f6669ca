package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	reuseport "github.com/kavu/go_reuseport"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"potpie.org/locationshare/src/settings"

	logger "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

const shutdownTimeout = 10 * time.Second

type server struct {
	grpcPort   int
	wsPort     int
	grpcServer *grpc.Server
	httpServer *http.Server

	shutdownOnce sync.Once
	sigs         chan os.Signal
}

func (server *server) Start(handler http.Handler) error {
	server.handleGracefulShutdown()
	defer signal.Stop(server.sigs)

	grpcAddr := fmt.Sprintf(":%d", server.grpcPort)
	logger.Infof("Listening for gRPC on '%s'", grpcAddr)
	grpcLis, err := reuseport.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC: %w", err)
	}

	wsAddr := fmt.Sprintf(":%d", server.wsPort)
	logger.Infof("Listening for HTTP on '%s'", wsAddr)
	wsLis, err := reuseport.Listen("tcp", wsAddr)
	if err != nil {
		grpcLis.Close()
		return fmt.Errorf("failed to listen for HTTP: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler)
	server.httpServer.Handler = mux

	errs := make(chan error, 2)
	go func() {
		errs <- server.grpcServer.Serve(grpcLis)
	}()
	go func() {
		err := server.httpServer.Serve(wsLis)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errs <- err
	}()

	first := <-errs
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	server.Shutdown(ctx)
	second := <-errs
	if first != nil {
		return first
	}
	return second
}

func (server *server) Shutdown(ctx context.Context) {
	server.shutdownOnce.Do(func() {
		if err := server.httpServer.Shutdown(ctx); err != nil {
			logger.Warnf("HTTP shutdown: %v", err)
		}
		// health watchers keep streams open, so a graceful stop is bounded by ctx
		stopped := make(chan struct{})
		go func() {
			server.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			server.grpcServer.Stop()
		}
		logger.Info("Server stopped")
	})
}

func NewServer(opts ...settings.Option) Server {
	s := settings.Load(opts...)

	var grpcOpts []grpc.ServerOption
	if s.GrpcUnaryInterceptor != nil {
		grpcOpts = append(grpcOpts, s.GrpcUnaryInterceptor)
	}

	ret := new(server)
	ret.grpcServer = grpc.NewServer(grpcOpts...)
	ret.httpServer = &http.Server{ReadHeaderTimeout: 10 * time.Second}
	ret.sigs = make(chan os.Signal, 1)

	ret.grpcPort = s.GrpcPort
	ret.wsPort = s.WSPort

	return ret
}

func (server *server) handleGracefulShutdown() {
	signal.Notify(server.sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		sig, ok := <-server.sigs
		if !ok {
			return
		}

		logger.Infof("HTTP server received %v, shutting down gracefully", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(ctx)
	}()
}

func (server *server) GrpcServer() *grpc.Server {
	return server.grpcServer
}
