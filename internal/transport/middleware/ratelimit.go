package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/transport"
)

// NewLimiter builds a limiter from a formatted rate such as "100-M". A nil
// client keeps counters in process.
func NewLimiter(rate string, client redis.UniversalClient) (*limiter.Limiter, error) {
	r, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}

	var store limiter.Store
	if client != nil {
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: "cash_advance_limiter"})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}
	return limiter.New(store, r), nil
}

// RateLimit limits each authenticated principal, falling back to the client IP.
func RateLimit(l *limiter.Limiter, lg *slog.Logger) func(http.Handler) http.Handler {
	h := transport.NewBaseHandler(lg)
	mw := stdlib.NewMiddleware(l,
		stdlib.WithKeyGetter(func(r *http.Request) string {
			if p, ok := auth.PrincipalFromContext(r.Context()); ok {
				return "principal:" + p.Email
			}
			return "ip:" + l.GetIPKey(r)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			lg.Warn("rate limit exceeded", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			h.HandleServiceError(w, internal.NewLimitError("too many requests, try again later", internal.ErrCodeRateLimited))
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			h.HandleServiceError(w, internal.NewInternalError("rate limit check failed", err))
		}),
	)
	return mw.Handler
}
