package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/rpcx"
	"github.com/dmitrijs2005/gophauth/internal/server/guard"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/dmitrijs2005/gophauth/internal/server/services"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

type userReply struct {
	User *models.PublicUser `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// registerRequest has no profile image; uploads go through HTTP only.
type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	UserName    string `json:"userName"`
	Password    string `json:"password"`
}

func (s *GRPCServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in registerRequest
	if err := decode(req, &in); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	user, err := s.sessions.Register(ctx, services.RegisterInput{
		Email:       in.Email,
		DisplayName: in.DisplayName,
		UserName:    in.UserName,
		Password:    in.Password,
	})
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, userReply{User: user})
}

func (s *GRPCServer) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in services.LoginInput
	if err := decode(req, &in); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	session, err := s.sessions.Login(ctx, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, session)
}

// Refresh prefers a refreshToken cookie in the metadata over the request
// field, the same order as the HTTP endpoint.
func (s *GRPCServer) Refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in refreshRequest
	if err := decode(req, &in); err != nil {
		return nil, s.toStatus(ctx, err)
	}

	token := in.RefreshToken
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if c := cookieValue(md, common.RefreshTokenCookie); c != "" {
			token = c
		}
	}

	pair, err := s.sessions.Refresh(ctx, token)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, pair)
}

func (s *GRPCServer) Logout(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	user, ok := guard.UserFromContext(ctx)
	if !ok {
		return nil, s.toStatus(ctx, common.AuthError("unauthorized", nil))
	}
	if err := s.sessions.Logout(ctx, user.ID); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &structpb.Struct{}, nil
}

func (s *GRPCServer) Me(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	user, ok := guard.UserFromContext(ctx)
	if !ok {
		return nil, s.toStatus(ctx, common.AuthError("unauthorized", nil))
	}
	profile, err := s.sessions.Profile(ctx, user.ID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, userReply{User: profile})
}

func decode(req *structpb.Struct, v any) error {
	if err := rpcx.Decode(req, v); err != nil {
		return common.ValidationError("invalid request body", err.Error())
	}
	return nil
}

func (s *GRPCServer) reply(ctx context.Context, v any) (*structpb.Struct, error) {
	out, err := rpcx.Encode(v)
	if err != nil {
		return nil, s.toStatus(ctx, common.InternalError(fmt.Errorf("encode reply: %w", err)))
	}
	return out, nil
}
