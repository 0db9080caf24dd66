package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/visionex-project/pagetrans/pkg/auth"
)

type Auth interface {
	// Verify returns the e-mail address the token was issued to.
	Verify(ctx context.Context, token string) (string, error)
}

// UnaryInterceptor rejects calls without a valid "authorization: Bearer <token>" header.
func UnaryInterceptor(authClient Auth) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		metadatas, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing context metadata")
		}
		key := metadatas.Get("Authorization")
		if len(key) != 1 {
			return nil, status.Errorf(codes.Unauthenticated, "missing authorization token")
		}
		token, err := auth.BearerToken(key[0])
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		if _, err := authClient.Verify(ctx, token); err != nil {
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}
		return handler(ctx, request)
	}
}
