package core

import (
	"context"

	"planguard/internal/types"
)

// Authenticator resolves a bearer token to the calling Actor. The returned
// Actor carries no tenant; AuthMiddleware binds it from the request.
type Authenticator interface {
	// ResolveToken returns an auth_token_invalid AppError for unknown tokens.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}
