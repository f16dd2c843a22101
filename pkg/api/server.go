package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/meridianhq/meridian/pkg/accounts"
	"github.com/meridianhq/meridian/pkg/authz"
	"github.com/meridianhq/meridian/pkg/delta"
	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/maintainer"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/schema"
	"github.com/meridianhq/meridian/pkg/scopes"
	"github.com/meridianhq/meridian/pkg/sharing"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Server is the HTTP surface over the authorization core. Handlers never
// mutate the permission cache directly; every sharing-relevant mutation
// enqueues a maintainer job instead.
type Server struct {
	router     *mux.Router
	db         *sql.DB
	schemas    schema.Provider
	accounts   *accounts.Store
	scopes     *scopes.Store
	sharing    *sharing.Store
	authorizer *authz.Authorizer
	engine     *delta.Engine
	maintainer *maintainer.Maintainer
	logger     *observability.Logger
	metrics    *observability.Metrics
}

// NewServer creates the API server and configures its routes.
func NewServer(
	db *sql.DB,
	schemas schema.Provider,
	accountStore *accounts.Store,
	scopeStore *scopes.Store,
	sharingStore *sharing.Store,
	authorizer *authz.Authorizer,
	engine *delta.Engine,
	m *maintainer.Maintainer,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		db:         db,
		schemas:    schemas,
		accounts:   accountStore,
		scopes:     scopeStore,
		sharing:    sharingStore,
		authorizer: authorizer,
		engine:     engine,
		maintainer: m,
		logger:     logger,
		metrics:    metrics,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	// Entity data routes
	s.router.HandleFunc("/v1/data/{model}", s.listInstances).Methods("GET")
	s.router.HandleFunc("/v1/data/{model}", s.createInstance).Methods("POST")
	s.router.HandleFunc("/v1/data/{model}/{uid}", s.getInstance).Methods("GET")
	s.router.HandleFunc("/v1/data/{model}/{uid}", s.updateInstance).Methods("PUT")
	s.router.HandleFunc("/v1/data/{model}/{uid}", s.deleteInstance).Methods("DELETE")

	// Sharing routes
	s.router.HandleFunc("/v1/data/{model}/{uid}/grants", s.listGrants).Methods("GET")
	s.router.HandleFunc("/v1/data/{model}/{uid}/grants", s.createGrant).Methods("POST")
	s.router.HandleFunc("/v1/data/{model}/{uid}/grants", s.revokeGrant).Methods("DELETE")

	// Account management routes
	s.router.HandleFunc("/v1/accounts", s.createAccount).Methods("POST")
	s.router.HandleFunc("/v1/accounts/{id}", s.getAccount).Methods("GET")
	s.router.HandleFunc("/v1/accounts/{id}/level", s.setAccountLevel).Methods("PUT")
	s.router.HandleFunc("/v1/accounts/{id}/recompute", s.recomputeAccount).Methods("POST")

	// Group management routes
	s.router.HandleFunc("/v1/groups", s.createGroup).Methods("POST")
	s.router.HandleFunc("/v1/groups/{id}/members", s.addGroupMember).Methods("POST")
	s.router.HandleFunc("/v1/groups/{id}/members/{account}", s.removeGroupMember).Methods("DELETE")

	// Scope management routes
	s.router.HandleFunc("/v1/scopes", s.createScope).Methods("POST")
	s.router.HandleFunc("/v1/scopes/{id}/members", s.addScopeMember).Methods("POST")
	s.router.HandleFunc("/v1/scopes/{id}/members/{account}", s.removeScopeMember).Methods("DELETE")
	s.router.HandleFunc("/v1/scopes/{id}/unsubscribe", s.unsubscribeScope).Methods("POST")
	s.router.HandleFunc("/v1/scopes/{id}/resubscribe", s.resubscribeScope).Methods("POST")
}

// Router returns the underlying router, exposed for tests.
func (s *Server) Router() *mux.Router { return s.router }

// Handler wraps the router in the standard middleware chain. Account
// resolution is optional so anonymous traffic reaches the public-only
// read path.
func (s *Server) Handler(accountMW *middleware.AccountMiddleware, limiter *middleware.RateLimiter, otelEnabled bool) http.Handler {
	chain := []func(http.Handler) http.Handler{
		middleware.RequestLogging(s.logger),
		observability.HTTPMetricsMiddleware(s.metrics),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(maxRequestBody),
		accountMW.Handler,
	}
	if limiter != nil {
		chain = append(chain, limiter.Handler)
	}

	var h http.Handler = httputil.Chain(chain...)(s.router)
	if otelEnabled {
		h = otelhttp.NewHandler(h, "meridian.api")
	}
	return h
}

// writeDomainError maps core errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrForbidden):
		httputil.WriteForbidden(w, "forbidden")
	case errors.Is(err, authz.ErrInvalidSelector):
		httputil.WriteBadRequest(w, "invalid scope selector")
	case errors.Is(err, delta.ErrInvalidWindow):
		httputil.WriteBadRequest(w, "invalid sync window")
	case errors.Is(err, authz.ErrUnknownModel):
		httputil.WriteNotFoundError(w, "unknown model")
	case errors.Is(err, sharing.ErrNotFound):
		httputil.WriteNotFoundError(w, "instance not found")
	case errors.Is(err, accounts.ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, scopes.ErrNotFound):
		httputil.WriteNotFoundError(w, "scope not found")
	default:
		s.logger.WithError(err).Error("request failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}

// requireAdmin gates management endpoints on the caller's level.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	account := middleware.GetAccount(r)
	if account == nil || !account.IsAdmin() {
		httputil.WriteForbidden(w, "admin level required")
		return false
	}
	return true
}
