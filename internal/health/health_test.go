package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()
	s := NewServer(nil)
	require.NoError(t, s.Listen("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx)
	}()

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		<-done
		_ = conn.Close()
	})
	return s, healthpb.NewHealthClient(conn)
}

func status(c healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := c.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN
	}
	return resp.GetStatus()
}

func TestServerReportsServing(t *testing.T) {
	s, c := startServer(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(c, ""))

	s.SetServing("broker", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status(c, "broker"))
}

func TestWatchFlipsStatus(t *testing.T) {
	s, c := startServer(t)
	var failing atomic.Bool
	failing.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, 20*time.Millisecond, map[string]Probe{
		"api": func(context.Context) error {
			if failing.Load() {
				return errors.New("down")
			}
			return nil
		},
	})

	assert.Eventually(t, func() bool {
		return status(c, "") == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	failing.Store(false)
	assert.Eventually(t, func() bool {
		return status(c, "api") == healthpb.HealthCheckResponse_SERVING &&
			status(c, "") == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeRequiresListen(t *testing.T) {
	assert.Error(t, NewServer(nil).Serve(context.Background()))
}
