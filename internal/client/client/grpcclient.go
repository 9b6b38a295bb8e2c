package client

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/gophauth/internal/client/models"
	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/rpcx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var guardedMethods = map[string]bool{
	rpcx.FullMethod(rpcx.MethodLogout): true,
	rpcx.FullMethod(rpcx.MethodMe):     true,
}

type GRPCClient struct {
	endpointURL string
	conn        *grpc.ClientConn

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	onRotate     func(models.TokenPair)
}

type Option func(*GRPCClient)

// WithRotationHook registers fn to be called with every new token pair,
// including the ones obtained by the automatic refresh.
func WithRotationHook(fn func(models.TokenPair)) Option {
	return func(c *GRPCClient) { c.onRotate = fn }
}

func NewGRPCClient(endpointURL string, opts ...Option) (*GRPCClient, error) {
	return newGRPCClient(endpointURL, nil, opts...)
}

func newGRPCClient(endpointURL string, dialOpts []grpc.DialOption, opts ...Option) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL}
	for _, opt := range opts {
		opt(c)
	}

	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
	}, dialOpts...)

	conn, err := grpc.NewClient(endpointURL, dialOpts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(common.AuthorizationHeader, common.BearerScheme+" "+token)
	return metadata.NewOutgoingContext(ctx, md)
}

// accessTokenInterceptor authorizes guarded calls and, on Unauthenticated,
// refreshes the pair once and repeats the call.
func (c *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	if !guardedMethods[method] {
		return invoker(ctx, method, req, reply, cc, opts...)
	}

	access, refresh := c.tokens()
	err := invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
	if status.Code(err) != codes.Unauthenticated || refresh == "" {
		return err
	}

	if rerr := c.refreshWith(ctx, refresh, func(ctx context.Context, in, out *structpb.Struct) error {
		return invoker(ctx, rpcx.FullMethod(rpcx.MethodRefresh), in, out, cc, opts...)
	}); rerr != nil {
		return err
	}

	access, _ = c.tokens()
	return invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
}

func (c *GRPCClient) tokens() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

func (c *GRPCClient) setTokens(p models.TokenPair) {
	c.mu.Lock()
	c.accessToken = p.AccessToken
	c.refreshToken = p.RefreshToken
	hook := c.onRotate
	c.mu.Unlock()

	if hook != nil {
		hook(p)
	}
}

func (c *GRPCClient) RefreshToken() string {
	_, r := c.tokens()
	return r
}

// SetRefreshToken seeds a token saved by an earlier run.
func (c *GRPCClient) SetRefreshToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshToken = token
}

func (c *GRPCClient) call(ctx context.Context, method string, req, reply any) error {
	in, err := rpcx.Encode(req)
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, rpcx.FullMethod(method), in, out); err != nil {
		return mapError(err)
	}
	if reply == nil {
		return nil
	}
	return rpcx.Decode(out, reply)
}

func (c *GRPCClient) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	var reply struct {
		User *models.User `json:"user"`
	}
	if err := c.call(ctx, rpcx.MethodRegister, req, &reply); err != nil {
		return nil, err
	}
	return reply.User, nil
}

func (c *GRPCClient) Login(ctx context.Context, identifier, password string) (*models.User, error) {
	req := map[string]string{"identifier": identifier, "password": password}
	var reply models.LoginResult
	if err := c.call(ctx, rpcx.MethodLogin, req, &reply); err != nil {
		return nil, err
	}
	c.setTokens(reply.TokenPair)
	return reply.User, nil
}

// Refresh exchanges the held refresh token for a new pair.
func (c *GRPCClient) Refresh(ctx context.Context) error {
	_, refresh := c.tokens()
	if refresh == "" {
		return ErrNoSession
	}
	err := c.refreshWith(ctx, refresh, func(ctx context.Context, in, out *structpb.Struct) error {
		return c.conn.Invoke(ctx, rpcx.FullMethod(rpcx.MethodRefresh), in, out)
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (c *GRPCClient) refreshWith(ctx context.Context, refresh string, invoke func(ctx context.Context, in, out *structpb.Struct) error) error {
	in, err := rpcx.Encode(map[string]string{"refreshToken": refresh})
	if err != nil {
		return err
	}
	out := &structpb.Struct{}
	if err := invoke(ctx, in, out); err != nil {
		return err
	}
	var pair models.TokenPair
	if err := rpcx.Decode(out, &pair); err != nil {
		return err
	}
	c.setTokens(pair)
	return nil
}

// Logout ends the server session and forgets the local tokens.
func (c *GRPCClient) Logout(ctx context.Context) error {
	if err := c.call(ctx, rpcx.MethodLogout, struct{}{}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.accessToken, c.refreshToken = "", ""
	c.mu.Unlock()
	return nil
}

func (c *GRPCClient) Me(ctx context.Context) (*models.User, error) {
	var reply struct {
		User *models.User `json:"user"`
	}
	if err := c.call(ctx, rpcx.MethodMe, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.User, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
