package rpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DialGRPC creates a client connection for generated gRPC clients. TLS is
// used for https:// endpoints and port 443, plaintext otherwise. The
// connection is established lazily on the first call.
func DialGRPC(endpoint string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	target, creds := grpcTarget(endpoint)
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return conn, nil
}

func grpcTarget(endpoint string) (string, credentials.TransportCredentials) {
	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		return strings.TrimPrefix(endpoint, "https://"), credentials.NewTLS(&tls.Config{})
	}
	return strings.TrimPrefix(endpoint, "http://"), insecure.NewCredentials()
}

// CheckGRPCHealth queries the standard gRPC health service on conn, retrying
// transient failures for up to timeout. An empty service checks the server
// as a whole.
func CheckGRPCHealth(ctx context.Context, conn *grpc.ClientConn, service string, timeout time.Duration) error {
	client := healthpb.NewHealthClient(conn)
	resp, err := Call(ctx, timeout, nil, func(ctx context.Context) (*healthpb.HealthCheckResponse, error) {
		return client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	})
	if err != nil {
		return fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc service %q is %s", service, resp.GetStatus())
	}
	return nil
}
