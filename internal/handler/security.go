package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/token"
)

// SecurityHandler authenticates requests by bearer token and resolves the
// caller through the user directory.
type SecurityHandler struct {
	tokens *token.Manager
	users  user.Repository
}

// NewSecurityHandler creates a SecurityHandler verifying tokens with tokens
// and resolving subjects in users.
func NewSecurityHandler(tokens *token.Manager, users user.Repository) *SecurityHandler {
	return &SecurityHandler{
		tokens: tokens,
		users:  users,
	}
}

// User requires an authenticated caller and stores it in the request context.
func (s *SecurityHandler) User(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Not authorized, no token")
			return
		}
		userID, err := s.tokens.Verify(raw)
		if err != nil {
			zctx.From(ctx).Debug("Reject token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "Not authorized, token failed")
			return
		}

		u, err := s.users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "Not authorized, user not found")
				return
			}
			zctx.From(ctx).Error("Resolve user", zap.String("user_id", userID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}

		ctx = auth.WithUser(ctx, *u)
		ctx = zctx.With(ctx, zap.String("user_id", u.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Admin requires an authenticated caller with admin privileges.
func (s *SecurityHandler) Admin(next http.Handler) http.Handler {
	return s.User(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := auth.UserFrom(r.Context()); !ok || !u.IsAdmin {
			writeError(w, http.StatusForbidden, "Access denied. Admin privileges required.")
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, raw, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
