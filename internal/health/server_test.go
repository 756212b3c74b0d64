package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func dialHealth(t *testing.T, addr string) healthpb.HealthClient {
	t.Helper()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthServerStartsNotServing(t *testing.T) {
	srv := NewServer("reporthub-backend")
	require.NoError(t, srv.Start("0"))
	defer srv.Stop()

	client := dialHealth(t, srv.Addr())

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, "reporthub-backend"))
}

func TestHealthServerServingTransitions(t *testing.T) {
	srv := NewServer("reporthub-backend")
	require.NoError(t, srv.Start("0"))
	defer srv.Stop()

	client := dialHealth(t, srv.Addr())

	srv.SetServing()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkStatus(t, client, "reporthub-backend"))

	srv.SetNotServing()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkStatus(t, client, ""))
}

func TestHealthServerUnknownService(t *testing.T) {
	srv := NewServer("reporthub-backend")
	require.NoError(t, srv.Start("0"))
	defer srv.Stop()

	client := dialHealth(t, srv.Addr())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "no-such-service"})
	assert.Error(t, err)
}
