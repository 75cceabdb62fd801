package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/vibast-solutions/ms-go-session-auth/app/service"

	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const APIKeyMetadata = "x-api-key"

type apiKeyValidator interface {
	ValidateAPIKey(apiKey string) error
}

// APIKeyUnaryInterceptor rejects calls without a known internal API key.
// Health checks are exempt so orchestrators can probe without credentials.
func APIKeyUnaryInterceptor(validator apiKeyValidator) gogrpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, handler gogrpc.UnaryHandler) (any, error) {
		if isHealthMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		if err := validateIncomingAPIKey(ctx, validator, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func APIKeyStreamInterceptor(validator apiKeyValidator) gogrpc.StreamServerInterceptor {
	return func(srv any, ss gogrpc.ServerStream, info *gogrpc.StreamServerInfo, handler gogrpc.StreamHandler) error {
		if isHealthMethod(info.FullMethod) {
			return handler(srv, ss)
		}
		if err := validateIncomingAPIKey(ss.Context(), validator, info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func validateIncomingAPIKey(ctx context.Context, validator apiKeyValidator, method string) error {
	apiKey := incomingAPIKeyFromMetadata(ctx)
	if apiKey == "" {
		logrus.WithField("method", method).Debug("Internal call without api key")
		return status.Error(codes.Unauthenticated, "unauthorized")
	}

	if err := validator.ValidateAPIKey(apiKey); err != nil {
		if errors.Is(err, service.ErrInvalidInternalAPIKey) {
			logrus.WithField("method", method).Warn("Internal call with invalid api key")
			return status.Error(codes.Unauthenticated, "unauthorized")
		}
		logrus.WithError(err).WithField("method", method).Error("Internal api key validation failed")
		return status.Error(codes.Internal, "internal server error")
	}
	return nil
}

func incomingAPIKeyFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(APIKeyMetadata)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func isHealthMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/grpc.health.v1.Health/")
}
