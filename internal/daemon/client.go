package daemon

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Client wraps the gRPC connection to a running daemon.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// errors surface on the first call.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn, Health: healthpb.NewHealthClient(conn)}, nil
}

// Check returns the health of one service ("" for the daemon itself).
func (c *Client) Check(ctx context.Context, service string) (*healthpb.HealthCheckResponse, error) {
	return c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
