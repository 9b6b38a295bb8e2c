package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/gophauth/internal/logging"
	"github.com/dmitrijs2005/gophauth/internal/rpcx"
	"github.com/dmitrijs2005/gophauth/internal/server/guard"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionService is the part of *services.UserService exposed over gRPC.
type SessionService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.PublicUser, error)
	Login(ctx context.Context, in services.LoginInput) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, userID string) error
	Profile(ctx context.Context, userID string) (*models.PublicUser, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, c guard.Credentials) (*models.PublicUser, error)
}

type GRPCServer struct {
	address  string
	sessions SessionService
	guard    Authenticator
	logger   logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, sessions SessionService, g Authenticator) *GRPCServer {
	return &GRPCServer{
		address:  a,
		logger:   l.With("module", "grpc_server"),
		sessions: sessions,
		guard:    g,
	}
}

type unaryMethod func(s *GRPCServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func methodHandler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*GRPCServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: rpcx.FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc declares gophauth.v1.AuthService by hand; every message is a
// google.protobuf.Struct.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: rpcx.ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		methodHandler(rpcx.MethodRegister, (*GRPCServer).Register),
		methodHandler(rpcx.MethodLogin, (*GRPCServer).Login),
		methodHandler(rpcx.MethodRefresh, (*GRPCServer).Refresh),
		methodHandler(rpcx.MethodLogout, (*GRPCServer).Logout),
		methodHandler(rpcx.MethodMe, (*GRPCServer).Me),
	},
	Metadata: "gophauth/v1/auth.proto",
}

// NewGRPC builds a grpc.Server with the interceptor chain and the service
// registered.
func (s *GRPCServer) NewGRPC(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.accessTokenInterceptor))
	srv := grpc.NewServer(opts...)
	srv.RegisterService(&ServiceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewGRPC()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	return srv.Serve(listen)
}
