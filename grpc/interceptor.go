// Package grpc authenticates gRPC calls with the bearer tokens the HTTP
// surface issues. The interceptors verify the token once per call and place
// the user id on the context for handlers to read with UserIDFromContext.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// DefaultMetadataKey is the metadata key carrying the bearer token.
const DefaultMetadataKey = "authorization"

// VerifyFunc turns a token string into a user id. Wire it to
// (*ooth.Ooth).VerifyToken.
type VerifyFunc func(token string) (string, error)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Verify validates the token. Required.
	Verify VerifyFunc

	// MetadataKey overrides the metadata key the token is read from.
	// Defaults to "authorization"; a "Bearer " prefix is stripped.
	MetadataKey string

	// RequireAuth when true rejects calls without a valid token. When
	// false, calls proceed and UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods never require auth. Keys are full method names like
	// "/package.Service/Method".
	PublicMethods map[string]bool
}

func (c *InterceptorConfig) metadataKey() string {
	if c.MetadataKey == "" {
		return DefaultMetadataKey
	}
	return c.MetadataKey
}

type ctxUserIDKey struct{}

// UserIDFromContext returns the user id an interceptor authenticated, or ""
// for unauthenticated calls.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxUserIDKey{}).(string)
	return id
}

// IsAuthenticated reports whether the call carries an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// TokenToOutgoingContext attaches a bearer token to an outgoing call.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKey, "Bearer "+token)
}

// UnaryAuthInterceptor returns a unary interceptor enforcing config.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a stream interceptor enforcing config.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

func authenticate(ctx context.Context, config *InterceptorConfig, fullMethod string) (context.Context, error) {
	if config == nil || config.Verify == nil {
		return nil, status.Error(codes.Internal, "auth interceptor misconfigured")
	}

	userID := ""
	if token := tokenFromContext(ctx, config.metadataKey()); token != "" {
		id, err := config.Verify(token)
		if err == nil {
			userID = id
		} else if config.RequireAuth && !config.PublicMethods[fullMethod] {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
	}

	if userID == "" && config.RequireAuth && !config.PublicMethods[fullMethod] {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	if userID != "" {
		ctx = context.WithValue(ctx, ctxUserIDKey{}, userID)
	}
	return ctx, nil
}

func tokenFromContext(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	token := values[0]
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return token
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }
