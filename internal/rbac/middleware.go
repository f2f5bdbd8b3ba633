package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/loomhub/loomhub/internal/shared"
	"github.com/loomhub/loomhub/internal/token"
)

// Guard gates protected endpoints on a declared (action, subject)
// requirement. A missing, invalid or expired token is Unauthorized; a valid
// identity lacking the permission is Forbidden. The two are never conflated.
type Guard struct {
	Issuer   *token.Issuer
	Resolver *Service
	Logger   *slog.Logger
}

// Authenticate verifies the bearer access token and attaches the resolved
// identity to the request context.
func (g Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := g.authenticate(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
	})
}

// Require authenticates and then checks that the caller holds
// (action, subject).
func (g Guard) Require(action, subject string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := g.authenticate(w, r)
			if !ok {
				return
			}
			allowed, err := g.Resolver.Has(r.Context(), identity.UserID, action, subject)
			if err != nil {
				if g.Logger != nil {
					g.Logger.Error("resolve permissions",
						slog.Int64("user_id", identity.UserID),
						slog.Any("error", err))
				}
				shared.WriteErrorKind(w, shared.KindInfrastructure, "internal error")
				return
			}
			if !allowed {
				shared.WriteErrorKind(w, shared.KindForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

func (g Guard) authenticate(w http.ResponseWriter, r *http.Request) (shared.Identity, bool) {
	raw := bearerToken(r)
	if raw == "" {
		shared.WriteErrorKind(w, shared.KindUnauthorized, "unauthorized")
		return shared.Identity{}, false
	}
	claims, err := g.Issuer.Verify(raw, token.TypeAccess)
	if err != nil {
		// Expired and invalid both map to 401; the body stays generic so the
		// response never explains which check failed.
		shared.WriteErrorKind(w, shared.KindUnauthorized, "unauthorized")
		return shared.Identity{}, false
	}
	userID, err := claims.UserID()
	if err != nil {
		shared.WriteErrorKind(w, shared.KindUnauthorized, "unauthorized")
		return shared.Identity{}, false
	}
	return shared.Identity{
		UserID:    userID,
		SessionID: claims.SessionID,
		TokenID:   claims.ID,
	}, true
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
