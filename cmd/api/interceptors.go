package main

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/logger"
	v1 "github.com/mediconnect/consult-relay/proto/chat/v1"
)

type identityContextKey struct{}

// unauthenticated methods
var publicMethods = map[string]bool{
	v1.ChatService_Register_FullMethodName: true,
	v1.ChatService_Login_FullMethodName:    true,
}

func identityFromContext(ctx context.Context) (chat.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(chat.Identity)
	return id, ok
}

// authenticate resolves the bearer token in the incoming metadata.
func authenticate(ctx context.Context, reg *chat.Registry) (chat.Identity, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return chat.Identity{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return chat.Identity{}, status.Error(codes.Unauthenticated, "missing authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	id, err := reg.Authenticate(token)
	if err != nil {
		return chat.Identity{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return id, nil
}

func withIdentity(ctx context.Context, id chat.Identity, method string) context.Context {
	ctx = context.WithValue(ctx, identityContextKey{}, id)
	return logger.WithLogFields(ctx, logger.LogFields{IdentityID: id.ID, Method: method})
}

// authUnaryInterceptor rejects unauthenticated calls to every method except
// Register and Login before the handler runs.
func authUnaryInterceptor(reg *chat.Registry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(logger.WithLogFields(ctx, logger.LogFields{Method: info.FullMethod}), req)
		}
		id, err := authenticate(ctx, reg)
		if err != nil {
			return nil, err
		}
		return handler(withIdentity(ctx, id, info.FullMethod), req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(reg *chat.Registry) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if publicMethods[info.FullMethod] {
			return handler(srv, ss)
		}
		id, err := authenticate(ss.Context(), reg)
		if err != nil {
			return err
		}
		return handler(srv, identityServerStream{ServerStream: ss, ctx: withIdentity(ss.Context(), id, info.FullMethod)})
	}
}

// identityServerStream overrides Context so handlers see the identity.
type identityServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s identityServerStream) Context() context.Context { return s.ctx }
