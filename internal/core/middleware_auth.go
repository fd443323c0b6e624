package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"planguard/internal/types"
)

// TenantHeader carries the tenant the upstream gateway authenticated.
const TenantHeader = "X-Tenant-ID"

const maxTenantIDLength = 128

// ServiceTokenAuthenticator accepts a single shared bearer token.
type ServiceTokenAuthenticator struct {
	token []byte
}

var _ Authenticator = (*ServiceTokenAuthenticator)(nil)

// NewServiceTokenAuthenticator creates an authenticator for token.
func NewServiceTokenAuthenticator(token types.SecretString) *ServiceTokenAuthenticator {
	return &ServiceTokenAuthenticator{token: []byte(token.Unmask())}
}

// ResolveToken compares in constant time and returns the service actor.
func (a *ServiceTokenAuthenticator) ResolveToken(_ context.Context, token string) (*types.Actor, error) {
	if len(a.token) == 0 || subtle.ConstantTimeCompare([]byte(token), a.token) != 1 {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid service token", nil)
	}
	return &types.Actor{ID: "gateway", Type: types.ActorTypeService}, nil
}

// AuthMiddleware authenticates the caller and binds the request to the tenant
// named in X-Tenant-ID. It is applied to the /v1 group only.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			s.Logger.ErrorContext(r.Context(), "no authenticator configured; rejecting request")
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication unavailable")
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Missing or malformed Authorization header")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil || actor == nil {
			s.handleAuthError(w, r, err)
			return
		}

		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" || len(tenantID) > maxTenantIDLength {
			s.writeAuthError(w, r, types.ErrCodeAuthTenantMissing, "Missing or invalid "+TenantHeader+" header")
			return
		}

		scoped := *actor
		scoped.TenantID = tenantID
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), scoped)))
	})
}

// extractBearerToken returns the token from "Bearer <token>", or "" when the
// header is absent or uses another scheme.
func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeAuthTokenInvalid {
		s.Logger.WarnContext(r.Context(), "authentication failed: token invalid",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
		return
	}

	attrs := []any{slog.String("method", r.Method), slog.String("path", r.URL.Path)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.Logger.ErrorContext(r.Context(), "authentication failed: unexpected error", attrs...)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	JSON(w, r, http.StatusUnauthorized, APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			RequestID: types.GetRequestID(r.Context()),
		},
	})
}
