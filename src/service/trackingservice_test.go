package trackingservice

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"potpie.org/locationshare/src/stream"
	"potpie.org/locationshare/src/tracking"
)

type fakeSource struct {
	hub *stream.Hub[tracking.Status]
}

func (f fakeSource) TrackingStateChanges() (<-chan tracking.Status, func()) {
	return f.hub.SubscribeFrom(tracking.Status{})
}

func TestHealthFollowsTrackingState(t *testing.T) {
	src := fakeSource{hub: stream.NewHub[tracking.Status]()}
	defer src.hub.Close()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	svc := StartService(srv, src)
	go srv.Serve(lis)
	defer srv.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	statusIs := func(want healthpb.HealthCheckResponse_ServingStatus) func() bool {
		return func() bool {
			resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
			return err == nil && resp.GetStatus() == want
		}
	}

	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_NOT_SERVING), 2*time.Second, 5*time.Millisecond)

	src.hub.Publish(tracking.Status{State: tracking.ActiveForeground, Interval: time.Second})
	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_SERVING), 2*time.Second, 5*time.Millisecond)

	src.hub.Publish(tracking.Status{State: tracking.Suspended, Reason: tracking.PermissionRevoked})
	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_NOT_SERVING), 2*time.Second, 5*time.Millisecond)

	src.hub.Publish(tracking.Status{State: tracking.ActiveBackground, Interval: 15 * time.Second})
	assert.Eventually(t, statusIs(healthpb.HealthCheckResponse_SERVING), 2*time.Second, 5*time.Millisecond)

	svc.Stop()
	assert.True(t, statusIs(healthpb.HealthCheckResponse_NOT_SERVING)())
}

func TestServingStatus(t *testing.T) {
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(tracking.Status{}))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, servingStatus(tracking.Status{State: tracking.Starting}))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, servingStatus(tracking.Status{State: tracking.ActiveForeground}))
}
