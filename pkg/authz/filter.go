package authz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/query"
)

// FilterQueryset narrows a queryset to the instances the account may read.
// First match wins: anonymous and blocked accounts see public instances
// only; admin+ is unfiltered; everyone else sees public instances, their
// cached read set, and (staff+ on a scoped model) live scope membership.
// The live branch keeps staff correct inside the maintainer's consistency
// window. An explicit scope selector ANDs on top.
func (a *Authorizer) FilterQueryset(ctx context.Context, account *model.Account, qs *query.Queryset, scopeSelector string) (*query.Queryset, error) {
	qs, err := a.applySelector(qs, scopeSelector)
	if err != nil {
		return nil, err
	}

	if account == nil || !account.IsActive() {
		return qs.Where("public = ?", true), nil
	}
	if account.IsAdmin() {
		return qs, nil
	}

	exprs := []string{"public = ?"}
	args := []any{true}

	if err := a.appendCachedBranch(ctx, account, qs.Model(), "read", &exprs, &args); err != nil {
		return nil, err
	}
	if err := a.appendLiveScopeBranch(ctx, account, qs.Model(), &exprs, &args); err != nil {
		return nil, err
	}

	return qs.Where("("+strings.Join(exprs, ") OR (")+")", args...), nil
}

// FilterQuerysetForWrite narrows a queryset to the instances the account
// may mutate. No public branch: writes come only from the cached write set
// and, for staff+ on scoped models, live scope membership.
func (a *Authorizer) FilterQuerysetForWrite(ctx context.Context, account *model.Account, qs *query.Queryset, scopeSelector string) (*query.Queryset, error) {
	qs, err := a.applySelector(qs, scopeSelector)
	if err != nil {
		return nil, err
	}

	if account == nil || !account.IsActive() {
		return qs.Where("1 = 0"), nil
	}
	if account.IsAdmin() {
		return qs, nil
	}

	var exprs []string
	var args []any

	if err := a.appendCachedBranch(ctx, account, qs.Model(), "write", &exprs, &args); err != nil {
		return nil, err
	}
	if err := a.appendLiveScopeBranch(ctx, account, qs.Model(), &exprs, &args); err != nil {
		return nil, err
	}

	if len(exprs) == 0 {
		return qs.Where("1 = 0"), nil
	}
	return qs.Where("("+strings.Join(exprs, ") OR (")+")", args...), nil
}

// applySelector ANDs an explicit scope selector onto the queryset. The
// selector is a decimal scope id; malformed input and selectors on
// unscoped models are fatal, a missing scope just matches nothing.
func (a *Authorizer) applySelector(qs *query.Queryset, scopeSelector string) (*query.Queryset, error) {
	if scopeSelector == "" {
		return qs, nil
	}
	if !a.schemas.Current().IsScoped(qs.Model()) {
		return nil, fmt.Errorf("%w: model %s is not scoped", ErrInvalidSelector, qs.Model())
	}
	scopeID, err := strconv.ParseInt(scopeSelector, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSelector, scopeSelector)
	}
	return qs.Where("scope_id = ?", scopeID), nil
}

func (a *Authorizer) appendCachedBranch(ctx context.Context, account *model.Account, modelName, tier string, exprs *[]string, args *[]any) error {
	row, err := a.cache.Get(ctx, account.ID, modelName)
	if err != nil {
		return fmt.Errorf("permission cache read: %w", err)
	}
	if row == nil {
		return nil
	}

	uids := row.ReadUIDs
	if tier == "write" {
		uids = row.WriteUIDs
	}
	if len(uids) == 0 {
		return nil
	}

	expr, inArgs := query.InStrings("uid", uids)
	*exprs = append(*exprs, expr)
	*args = append(*args, inArgs...)
	return nil
}

func (a *Authorizer) appendLiveScopeBranch(ctx context.Context, account *model.Account, modelName string, exprs *[]string, args *[]any) error {
	if !account.IsStaff() || !a.schemas.Current().IsScoped(modelName) {
		return nil
	}

	scopeIDs, err := a.scopes.ScopesOf(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("loading scopes: %w", err)
	}
	if len(scopeIDs) == 0 {
		return nil
	}

	expr, inArgs := query.InInt64s("scope_id", scopeIDs)
	*exprs = append(*exprs, expr)
	*args = append(*args, inArgs...)
	return nil
}
