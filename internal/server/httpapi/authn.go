package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/model"
)

type ctxKey int

const (
	ctxAccount ctxKey = iota
	ctxAccessSecret
)

// ContextWithAccount stores the authenticated account.
func ContextWithAccount(ctx context.Context, a *model.Account) context.Context {
	return context.WithValue(ctx, ctxAccount, a)
}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (*model.Account, bool) {
	a, ok := ctx.Value(ctxAccount).(*model.Account)
	return a, ok
}

func contextWithAccessSecret(ctx context.Context, secret string) context.Context {
	return context.WithValue(ctx, ctxAccessSecret, secret)
}

func accessSecretFromContext(ctx context.Context) string {
	s, _ := ctx.Value(ctxAccessSecret).(string)
	return s
}

func extractBearer(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	secret := strings.TrimSpace(header[len(prefix):])
	return secret, secret != ""
}

// requireAuth resolves the bearer access token and stores the account and
// the presented secret in the request context. The secret is kept only so
// logout can revoke the session it arrived on.
func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret, ok := extractBearer(r.Header.Get("Authorization"))
		if !ok {
			writeServiceError(w, errs.ErrUnauthenticated)
			return
		}
		account, err := a.ledger.Resolve(r.Context(), model.TokenAccess, secret)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		ctx := ContextWithAccount(r.Context(), account)
		ctx = contextWithAccessSecret(ctx, secret)
		next(w, r.WithContext(ctx))
	}
}

func requestMeta(r *http.Request) model.RequestMeta {
	return model.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
}
