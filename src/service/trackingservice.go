package trackingservice

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"potpie.org/locationshare/src/tracking"

	logger "github.com/sirupsen/logrus"
)

// ServiceName is reported SERVING while tracking is active.
const ServiceName = "locationshare.Tracking"

// StateSource is the part of the tracker the health service follows.
type StateSource interface {
	TrackingStateChanges() (<-chan tracking.Status, func())
}

type Service interface {
	Health() *health.Server
	// Stop stops following tracking state and reports NOT_SERVING.
	Stop()
}

type service struct {
	health *health.Server
	cancel func()
	done   chan struct{}
}

func servingStatus(st tracking.Status) healthpb.HealthCheckResponse_ServingStatus {
	if st.State.Active() {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

func (this *service) follow(states <-chan tracking.Status) {
	defer close(this.done)
	for st := range states {
		status := servingStatus(st)
		logger.WithField("state", st.String()).Debugf("Health %s: %s", ServiceName, status)
		this.health.SetServingStatus(ServiceName, status)
	}
}

func (this *service) Health() *health.Server {
	return this.health
}

func (this *service) Stop() {
	this.cancel()
	<-this.done
	this.health.Shutdown()
}

func StartService(grpcServer *grpc.Server, source StateSource) Service {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, hs)

	states, cancel := source.TrackingStateChanges()
	newService := &service{health: hs, cancel: cancel, done: make(chan struct{})}
	go newService.follow(states)

	return newService
}
