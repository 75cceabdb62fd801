package grpc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	authgrpc "github.com/vibast-solutions/ms-go-session-auth/app/grpc"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"
	"github.com/vibast-solutions/ms-go-session-auth/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

const testAPIKey = "svc-orders-key"

func newTestTokens() *service.TokenService {
	return service.NewTokenService(config.JWTConfig{
		Access:  config.TokenConfig{Secret: "access-secret", TTL: 15 * time.Minute},
		Refresh: config.TokenConfig{Secret: "refresh-secret", TTL: 7 * 24 * time.Hour},
		Reset:   config.TokenConfig{Secret: "reset-secret", TTL: 15 * time.Minute},
	})
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build struct failed: %v", err)
	}
	return s
}

func TestAuthorize_Decisions(t *testing.T) {
	tokens := newTestTokens()
	server := authgrpc.NewAuthServer(service.NewGuard(tokens))

	adminToken, err := tokens.IssueAccess(7, entity.RoleAdmin)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	customerToken, _ := tokens.IssueAccess(8, entity.RoleCustomer)
	refreshToken, _ := tokens.IssueRefresh(7)

	cases := []struct {
		name    string
		req     map[string]any
		allowed bool
		reason  string
		userID  float64
	}{
		{name: "public route", req: map[string]any{"public": true}, allowed: true},
		{name: "missing token", req: map[string]any{}, reason: "unauthorized"},
		{name: "refresh token as access", req: map[string]any{"access_token": refreshToken}, reason: "unauthorized"},
		{name: "any role", req: map[string]any{"access_token": customerToken}, allowed: true, userID: 8},
		{name: "role permitted", req: map[string]any{"access_token": adminToken, "roles": []any{"admin"}}, allowed: true, userID: 7},
		{name: "role denied", req: map[string]any{"access_token": customerToken, "roles": []any{"admin", "vendor"}}, reason: "forbidden"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := server.Authorize(context.Background(), mustStruct(t, tc.req))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			fields := resp.GetFields()
			if fields["allowed"].GetBoolValue() != tc.allowed {
				t.Fatalf("expected allowed=%v, got %v", tc.allowed, resp)
			}
			if fields["reason"].GetStringValue() != tc.reason {
				t.Fatalf("expected reason %q, got %v", tc.reason, resp)
			}
			if fields["user_id"].GetNumberValue() != tc.userID {
				t.Fatalf("expected user_id %v, got %v", tc.userID, resp)
			}
		})
	}
}

func TestAuthorize_InvalidArguments(t *testing.T) {
	server := authgrpc.NewAuthServer(service.NewGuard(newTestTokens()))

	cases := map[string]map[string]any{
		"unknown role":      {"access_token": "x", "roles": []any{"superuser"}},
		"non-string token":  {"access_token": 12},
		"non-list roles":    {"roles": "admin"},
		"non-boolean flags": {"public": "yes"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := server.Authorize(context.Background(), mustStruct(t, req))
			if status.Code(err) != codes.InvalidArgument {
				t.Fatalf("expected invalid argument, got %v", err)
			}
		})
	}

	if _, err := server.Authorize(context.Background(), nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for nil request, got %v", err)
	}
}

func startBufServer(t *testing.T, tokens *service.TokenService) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(1 << 20)
	access := service.NewInternalAccessService([]string{service.HashAPIKey(testAPIKey)})
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(authgrpc.APIKeyUnaryInterceptor(access)),
		grpc.StreamInterceptor(authgrpc.APIKeyStreamInterceptor(access)),
	)
	authgrpc.RegisterAuthServer(srv, authgrpc.NewAuthServer(service.NewGuard(tokens)))
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestAuthServer_OverTheWire(t *testing.T) {
	tokens := newTestTokens()
	conn := startBufServer(t, tokens)

	accessToken, _ := tokens.IssueAccess(42, entity.RoleVendor)
	req := mustStruct(t, map[string]any{"access_token": accessToken, "roles": []any{"vendor"}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := new(structpb.Struct)
	err := conn.Invoke(ctx, authgrpc.AuthorizeFullMethod, req, resp)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated without api key, got %v", err)
	}

	authed := metadata.AppendToOutgoingContext(ctx, authgrpc.APIKeyMetadata, testAPIKey)
	if err = conn.Invoke(authed, authgrpc.AuthorizeFullMethod, req, resp); err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !resp.GetFields()["allowed"].GetBoolValue() || resp.GetFields()["role"].GetStringValue() != "vendor" {
		t.Fatalf("unexpected response: %v", resp)
	}

	check, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if check.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health status: %v", check.GetStatus())
	}
}
