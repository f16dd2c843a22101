// Package authz composes the level hierarchy, role gate, permission cache
// and live scope membership into the request authorization surface.
package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/pkg/accounts"
	"github.com/meridianhq/meridian/pkg/level"
	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/permcache"
	"github.com/meridianhq/meridian/pkg/schema"
	"github.com/meridianhq/meridian/pkg/scopes"
)

var (
	// ErrForbidden is returned when the level or role gate rejects an
	// operation. Fatal; maps to 403.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidSelector is returned for a malformed scope selector or a
	// selector on an unscoped model. Fatal; maps to 400.
	ErrInvalidSelector = errors.New("invalid scope selector")

	// ErrUnknownModel is returned for model names the schema does not
	// declare.
	ErrUnknownModel = errors.New("unknown model")
)

// Authorizer gates requests and narrows querysets to what an account may
// see. It reads the permission cache but never writes it.
type Authorizer struct {
	schemas  schema.Provider
	accounts *accounts.Store
	scopes   *scopes.Store
	cache    *permcache.Cache
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// New creates an authorizer. metrics may be nil.
func New(schemas schema.Provider, accountStore *accounts.Store, scopeStore *scopes.Store, cache *permcache.Cache, logger *observability.Logger, metrics *observability.Metrics) *Authorizer {
	return &Authorizer{
		schemas:  schemas,
		accounts: accountStore,
		scopes:   scopeStore,
		cache:    cache,
		metrics:  metrics,
		logger:   logger.WithField("component", "authz"),
	}
}

// CheckMinimumLevel verifies the account's level against the model's
// declared minimum class for the operation. Evaluated before any query
// and never consults the permission cache. A nil account is anonymous.
func (a *Authorizer) CheckMinimumLevel(account *model.Account, modelName string, op model.Operation) error {
	reg := a.schemas.Current()
	if _, ok := reg.Type(modelName); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}

	class := reg.MinimumLevel(modelName, op)
	if account == nil {
		if level.AnonymousSatisfies(class) {
			return nil
		}
		return fmt.Errorf("%w: %s on %s requires %s", ErrForbidden, op, modelName, class)
	}
	if !account.Level.Satisfies(class) {
		return fmt.Errorf("%w: %s on %s requires %s", ErrForbidden, op, modelName, class)
	}
	return nil
}

// CheckRoles verifies the account holds one of the roles declared for the
// operation. Admin+ accounts pass unconditionally, as do exempt types and
// operations with no declared roles. Independent of per-instance sharing.
func (a *Authorizer) CheckRoles(ctx context.Context, account *model.Account, modelName string, op model.Operation) error {
	reg := a.schemas.Current()
	entity, ok := reg.Type(modelName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelName)
	}
	if entity.RoleGateExempt {
		return nil
	}
	if account.IsAdmin() {
		return nil
	}

	declared := reg.DeclaredRoles(modelName, op)
	if len(declared) == 0 {
		return nil
	}
	if account == nil {
		return fmt.Errorf("%w: %s on %s requires a role", ErrForbidden, op, modelName)
	}

	held, err := a.accounts.RoleNamesOf(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("loading roles: %w", err)
	}
	heldSet := make(map[string]bool, len(held))
	for _, name := range held {
		heldSet[name] = true
	}
	for _, name := range declared {
		if heldSet[name] {
			return nil
		}
	}
	return fmt.Errorf("%w: %s on %s requires one of %v", ErrForbidden, op, modelName, declared)
}

// AuthorizeRequest runs the level gate then the role gate. Failure is
// fatal for the request; per-instance filtering never runs.
func (a *Authorizer) AuthorizeRequest(ctx context.Context, account *model.Account, modelName string, op model.Operation) error {
	start := time.Now()
	err := a.CheckMinimumLevel(account, modelName, op)
	if err == nil {
		err = a.CheckRoles(ctx, account, modelName, op)
	}

	if a.metrics != nil {
		a.metrics.AuthzCheckDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
		a.metrics.ObserveAuthz(modelName, string(op), err == nil)
	}
	return err
}
