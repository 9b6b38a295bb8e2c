package grpc

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/rpcx"
	"github.com/dmitrijs2005/gophauth/internal/server/guard"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var guardedMethods = map[string]bool{
	rpcx.FullMethod(rpcx.MethodLogout): true,
	rpcx.FullMethod(rpcx.MethodMe):     true,
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !guardedMethods[info.FullMethod] {
		return handler(ctx, req)
	}

	var creds guard.Credentials
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(common.AuthorizationHeader); len(values) > 0 {
			creds.Authorization = values[0]
		}
		creds.Cookie = cookieValue(md, common.AccessTokenCookie)
	}

	user, err := s.guard.Authenticate(ctx, creds)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return handler(guard.WithUser(ctx, user), req)
}

func (s *GRPCServer) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error(ctx, "panic recovered", "panic", p, "method", info.FullMethod, "stack", string(debug.Stack()))
			err = status.Error(codes.Internal, "internal server error")
		}
	}()
	return handler(ctx, req)
}

// cookieValue finds name in the "cookie" metadata entries.
func cookieValue(md metadata.MD, name string) string {
	for _, line := range md.Get(common.CookieHeader) {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name == name && c.Value != "" {
				return c.Value
			}
		}
	}
	return ""
}

var kindCodes = map[common.Kind]codes.Code{
	common.KindValidation:   codes.InvalidArgument,
	common.KindConflict:     codes.AlreadyExists,
	common.KindUnauthorized: codes.Unauthenticated,
	common.KindForbidden:    codes.PermissionDenied,
	common.KindNotFound:     codes.NotFound,
	common.KindInternal:     codes.Internal,
}

// toStatus maps a kinded error to a gRPC status. Validation details travel
// as a BadRequest detail.
func (s *GRPCServer) toStatus(ctx context.Context, err error) error {
	e := common.AsError(err)
	code := kindCodes[e.Kind]
	if code == codes.Internal {
		s.logger.Error(ctx, "rpc failed", "error", err)
	}

	st := status.New(code, e.Message)
	if len(e.Details) == 0 {
		return st.Err()
	}
	br := &errdetails.BadRequest{}
	for _, d := range e.Details {
		field, desc, ok := strings.Cut(d, ": ")
		if !ok {
			field, desc = "", d
		}
		br.FieldViolations = append(br.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: field, Description: desc})
	}
	withDetails, derr := st.WithDetails(br)
	if derr != nil {
		return st.Err()
	}
	return withDetails.Err()
}
