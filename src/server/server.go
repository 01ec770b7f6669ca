package server

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
)

type Server interface {
	// Start serves gRPC and HTTP (handler on /, metrics on /metrics) until
	// Shutdown or a termination signal.
	Start(handler http.Handler) error
	Shutdown(ctx context.Context)
	GrpcServer() *grpc.Server
}
