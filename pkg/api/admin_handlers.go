package api

import (
	"net/http"

	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/level"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/model"
)

type createAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Level    string `json:"level,omitempty"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req createAccountRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}

	lvl := level.SimpleUser
	if req.Level != "" {
		parsed, err := level.Parse(req.Level)
		if err != nil {
			httputil.WriteBadRequest(w, "unknown level")
			return
		}
		lvl = parsed
	}

	account := &model.Account{Username: req.Username, Email: req.Email, Level: lvl}
	if err := s.accounts.CreateAccount(r.Context(), account); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, account)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	caller := middleware.GetAccount(r)
	if caller == nil || (caller.ID != id && !caller.IsAdmin()) {
		httputil.WriteForbidden(w, "forbidden")
		return
	}

	account, err := s.accounts.GetAccount(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, account)
}

type setLevelRequest struct {
	Level string `json:"level"`
}

type setLevelResponse struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// setAccountLevel changes an account's rank. Crossing the admin or active
// boundary invalidates the account's cached permissions, which the
// maintainer repairs asynchronously.
func (s *Server) setAccountLevel(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req setLevelRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	newLevel, err := level.Parse(req.Level)
	if err != nil {
		httputil.WriteBadRequest(w, "unknown level")
		return
	}

	previous, err := s.accounts.SetLevel(r.Context(), id, newLevel)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyLevelChanged(id, previous, newLevel)
	httputil.WriteSuccess(w, setLevelResponse{
		Previous: previous.String(),
		Current:  newLevel.String(),
	})
}

func (s *Server) recomputeAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, err := s.accounts.GetAccount(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyFullRecompute(id)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

type createGroupRequest struct {
	Name string `json:"name"`
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req createGroupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	group := &model.Group{Name: req.Name}
	if err := s.accounts.CreateGroup(r.Context(), group); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, group)
}

type memberRequest struct {
	AccountID int64 `json:"account_id"`
}

func (s *Server) addGroupMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.AccountID, "account_id") {
		return
	}

	if err := s.accounts.AddGroupMember(r.Context(), groupID, req.AccountID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyGroupMembership(req.AccountID, groupID)
	httputil.WriteNoContent(w)
}

func (s *Server) removeGroupMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	groupID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "account")
	if !ok {
		return
	}

	if err := s.accounts.RemoveGroupMember(r.Context(), groupID, accountID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyGroupMembership(accountID, groupID)
	httputil.WriteNoContent(w)
}

type createScopeRequest struct {
	Name string `json:"name"`
}

func (s *Server) createScope(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}

	var req createScopeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	scope := &model.Scope{Name: req.Name}
	if err := s.scopes.CreateScope(r.Context(), scope); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteCreated(w, scope)
}

func (s *Server) addScopeMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req memberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.AccountID, "account_id") {
		return
	}

	if err := s.scopes.AddMember(r.Context(), scopeID, req.AccountID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyScopeMembership(req.AccountID, scopeID)
	httputil.WriteNoContent(w)
}

func (s *Server) removeScopeMember(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	accountID, ok := httputil.ParsePathInt64OrError(w, r, "account")
	if !ok {
		return
	}

	if err := s.scopes.RemoveMember(r.Context(), scopeID, accountID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyScopeMembership(accountID, scopeID)
	httputil.WriteNoContent(w)
}

// unsubscribeScope mutes a scope for the calling account. Membership is
// retained; only cached visibility is withdrawn.
func (s *Server) unsubscribeScope(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.scopes.Unsubscribe(r.Context(), scopeID, account.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyScopeMembership(account.ID, scopeID)
	httputil.WriteNoContent(w)
}

func (s *Server) resubscribeScope(w http.ResponseWriter, r *http.Request) {
	account := middleware.GetAccount(r)
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	scopeID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.scopes.Resubscribe(r.Context(), scopeID, account.ID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyScopeMembership(account.ID, scopeID)
	httputil.WriteNoContent(w)
}
