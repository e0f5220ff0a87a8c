package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/transport"
	"github.com/frahmantamala/cash-advance/pkg/logger"
)

type Middleware struct {
	*transport.BaseHandler
	verifier TokenVerifier
}

func NewMiddleware(verifier TokenVerifier, lg *slog.Logger) *Middleware {
	return &Middleware{
		BaseHandler: transport.NewBaseHandler(lg),
		verifier:    verifier,
	}
}

// Authenticate rejects requests without a valid bearer token and stores the principal.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.ExtractTokenFromHeader(r)
		if token == "" {
			m.HandleServiceError(w, internal.ErrInvalidToken.WithMessage("missing authorization token"))
			return
		}

		principal, err := m.verifier.Verify(token)
		if err != nil {
			m.HandleServiceError(w, err)
			return
		}

		ctx := WithPrincipal(r.Context(), principal)
		ctx = logger.With(ctx, "actor", principal.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole allows the request through only when the principal holds one of roles.
func (m *Middleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.Logger.Warn("authorization check failed: principal not found in context")
				m.HandleServiceError(w, internal.ErrInvalidToken.WithMessage("unauthorized"))
				return
			}

			if !principal.HasAnyRole(roles...) {
				m.Logger.WarnContext(r.Context(), "access denied: insufficient role",
					"actor", principal.Email,
					"required_roles", roles,
					"roles", principal.Roles)
				m.HandleServiceError(w, internal.ErrInsufficientRole)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
