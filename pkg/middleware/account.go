package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/meridianhq/meridian/pkg/accounts"
	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/observability"
)

// AccountHeader carries the caller's account id, set by the edge proxy
// after it has authenticated the session.
const AccountHeader = "X-Meridian-Account"

type accountContextKey struct{}

// AccountMiddleware resolves the calling account from the request and
// places it on the context. When optional is true, requests without an
// account header proceed anonymously.
type AccountMiddleware struct {
	accounts *accounts.Store
	logger   *observability.Logger
	optional bool
}

// NewAccountMiddleware creates a new account resolution middleware
func NewAccountMiddleware(store *accounts.Store, logger *observability.Logger, optional bool) *AccountMiddleware {
	return &AccountMiddleware{
		accounts: store,
		logger:   logger,
		optional: optional,
	}
}

// Handler wraps an HTTP handler with account resolution
func (m *AccountMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(AccountHeader)
		if header == "" {
			if m.optional {
				// Continue anonymously
				next.ServeHTTP(w, r)
				return
			}
			m.unauthorizedResponse(w, "missing account header")
			return
		}

		id, err := strconv.ParseInt(header, 10, 64)
		if err != nil || id <= 0 {
			m.unauthorizedResponse(w, "invalid account header")
			return
		}

		account, err := m.accounts.GetAccount(r.Context(), id)
		if err != nil {
			if errors.Is(err, accounts.ErrNotFound) {
				m.unauthorizedResponse(w, "unknown account")
				return
			}
			m.logger.WithError(err).WithField("account_id", id).Error("account lookup failed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"internal server error"}`))
			return
		}

		ctx := WithAccount(r.Context(), account)
		ctx = observability.WithAccountID(ctx, account.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AccountMiddleware) unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// WithAccount returns a context carrying the resolved account.
func WithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// GetAccount extracts the resolved account from a request. It returns nil
// for anonymous requests.
func GetAccount(r *http.Request) *model.Account {
	account, _ := r.Context().Value(accountContextKey{}).(*model.Account)
	return account
}
