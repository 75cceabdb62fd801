package grpc

import (
	"context"
	"errors"
	"fmt"

	httpdto "github.com/vibast-solutions/ms-go-session-auth/app/dto/http"
	"github.com/vibast-solutions/ms-go-session-auth/app/entity"
	"github.com/vibast-solutions/ms-go-session-auth/app/service"

	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName         = "auth.v1.AuthService"
	AuthorizeFullMethod = "/" + ServiceName + "/Authorize"
)

type accessAuthorizer interface {
	Authorize(accessToken string, access service.RouteAccess) (*service.Claims, error)
}

// AuthServer exposes the access decision to sibling services. Messages are
// google.protobuf.Struct so callers need no generated stubs.
type AuthServer struct {
	guard accessAuthorizer
}

func NewAuthServer(guard accessAuthorizer) *AuthServer {
	return &AuthServer{guard: guard}
}

func (s *AuthServer) Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	authReq, err := authorizeRequestFromStruct(req)
	if err != nil {
		logrus.WithError(err).Debug("Authorize validation failed (grpc)")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	access := service.RouteAccess{Public: authReq.Public}
	for _, name := range authReq.Roles {
		role, ok := entity.ParseRole(name)
		if !ok {
			return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("unknown role %q", name))
		}
		access.Roles = append(access.Roles, role)
	}

	claims, err := s.guard.Authorize(authReq.AccessToken, access)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthorized):
			return authorizeResponseToStruct(httpdto.AuthorizeResponse{Reason: "unauthorized"})
		case errors.Is(err, service.ErrForbidden):
			return authorizeResponseToStruct(httpdto.AuthorizeResponse{Reason: "forbidden"})
		}
		logrus.WithError(err).Error("Authorize failed (grpc)")
		return nil, status.Error(codes.Internal, "internal server error")
	}

	resp := httpdto.AuthorizeResponse{Allowed: true}
	if claims != nil {
		resp.UserID = claims.UserID
		resp.Role = string(claims.Role)
	}
	return authorizeResponseToStruct(resp)
}

func authorizeRequestFromStruct(req *structpb.Struct) (httpdto.AuthorizeRequest, error) {
	var out httpdto.AuthorizeRequest
	if req == nil {
		return out, errors.New("request is required")
	}

	fields := req.GetFields()
	if v, ok := fields["access_token"]; ok {
		if _, isString := v.GetKind().(*structpb.Value_StringValue); !isString {
			return out, errors.New("access_token must be a string")
		}
		out.AccessToken = v.GetStringValue()
	}
	if v, ok := fields["public"]; ok {
		if _, isBool := v.GetKind().(*structpb.Value_BoolValue); !isBool {
			return out, errors.New("public must be a boolean")
		}
		out.Public = v.GetBoolValue()
	}
	if v, ok := fields["roles"]; ok {
		list := v.GetListValue()
		if list == nil {
			return out, errors.New("roles must be a list of strings")
		}
		for _, item := range list.GetValues() {
			if _, isString := item.GetKind().(*structpb.Value_StringValue); !isString {
				return out, errors.New("roles must be a list of strings")
			}
			out.Roles = append(out.Roles, item.GetStringValue())
		}
	}
	return out, nil
}

func authorizeResponseToStruct(resp httpdto.AuthorizeResponse) (*structpb.Struct, error) {
	fields := map[string]any{"allowed": resp.Allowed}
	if resp.UserID != 0 {
		fields["user_id"] = float64(resp.UserID)
	}
	if resp.Role != "" {
		fields["role"] = resp.Role
	}
	if resp.Reason != "" {
		fields["reason"] = resp.Reason
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return out, nil
}

type authServiceServer interface {
	Authorize(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterAuthServer(registrar gogrpc.ServiceRegistrar, srv *AuthServer) {
	registrar.RegisterService(&authServiceDesc, srv)
}

var authServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*authServiceServer)(nil),
	Methods: []gogrpc.MethodDesc{
		{MethodName: "Authorize", Handler: authorizeHandler},
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "auth/v1/auth.proto",
}

func authorizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(authServiceServer).Authorize(ctx, in)
	}
	info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: AuthorizeFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(authServiceServer).Authorize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
