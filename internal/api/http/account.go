package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/nestkit/nestkit/internal/protocol"
)

// AccountHeader names the account a request is sent from.
const AccountHeader = "X-Account"

type accountKey struct{}

func withAccount(ctx context.Context, account protocol.ActorRef) context.Context {
	return context.WithValue(ctx, accountKey{}, account)
}

func accountFromContext(ctx context.Context) (protocol.ActorRef, bool) {
	v, ok := ctx.Value(accountKey{}).(protocol.ActorRef)
	return v, ok && !v.IsZero()
}

// requireAccount resolves the calling account. Refs of hosted actors are
// refused: actors reach each other through the runtime, never the gateway.
func (s *Server) requireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractAccount(r)
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+AccountHeader, nil)
			return
		}
		account, err := protocol.ParseActorRef(raw)
		if err != nil || account.IsZero() {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid account", nil)
			return
		}
		if s.runtime.Hosts(account) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "account is a hosted actor", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), account)))
	})
}

func extractAccount(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(AccountHeader)); v != "" {
		return v
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return ""
}
