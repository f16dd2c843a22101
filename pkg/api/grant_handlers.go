package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/sharing"
)

type grantRequest struct {
	GranteeType string `json:"grantee_type"` // "user" or "group"
	GranteeID   int64  `json:"grantee_id"`
	Relation    string `json:"relation"` // "view" or "admin"
}

func (g *grantRequest) validate(w http.ResponseWriter) bool {
	if g.GranteeType != "user" && g.GranteeType != "group" {
		httputil.WriteBadRequest(w, "grantee_type must be user or group")
		return false
	}
	if g.GranteeID <= 0 {
		httputil.WriteBadRequest(w, "grantee_id must be positive")
		return false
	}
	if !sharing.Relation(g.Relation).Valid() {
		httputil.WriteBadRequest(w, "relation must be view or admin")
		return false
	}
	return true
}

type grantListResponse struct {
	ViewUsers   []int64 `json:"view_users"`
	AdminUsers  []int64 `json:"admin_users"`
	ViewGroups  []int64 `json:"view_groups"`
	AdminGroups []int64 `json:"admin_groups"`
}

// listGrants returns the sharing lists of one instance. Seeing the ACL
// requires write access, the same gate as changing it.
func (s *Server) listGrants(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, uid := vars["model"], vars["uid"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if inst, err := s.checkWriteAccess(ctx, w, account, modelName, uid); inst == nil || err != nil {
		return
	}

	resp := grantListResponse{}
	var err error
	if resp.ViewUsers, err = s.sharing.GrantedAccounts(ctx, modelName, uid, sharing.RelationView); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if resp.AdminUsers, err = s.sharing.GrantedAccounts(ctx, modelName, uid, sharing.RelationAdmin); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if resp.ViewGroups, err = s.sharing.GrantedGroups(ctx, modelName, uid, sharing.RelationView); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if resp.AdminGroups, err = s.sharing.GrantedGroups(ctx, modelName, uid, sharing.RelationAdmin); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, resp)
}

func (s *Server) createGrant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, uid := vars["model"], vars["uid"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if inst, err := s.checkWriteAccess(ctx, w, account, modelName, uid); inst == nil || err != nil {
		return
	}

	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	relation := sharing.Relation(req.Relation)
	var err error
	if req.GranteeType == "user" {
		err = s.sharing.GrantUser(ctx, modelName, uid, req.GranteeID, relation)
	} else {
		err = s.sharing.GrantGroup(ctx, modelName, uid, req.GranteeID, relation)
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyGrantChanged(modelName, uid, nil, nil)
	httputil.WriteCreated(w, req)
}

func (s *Server) revokeGrant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, uid := vars["model"], vars["uid"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if inst, err := s.checkWriteAccess(ctx, w, account, modelName, uid); inst == nil || err != nil {
		return
	}

	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !req.validate(w) {
		return
	}

	// Revoked grantees are carried on the job; the maintainer cannot see
	// them in live data anymore.
	relation := sharing.Relation(req.Relation)
	var err error
	var removedAccounts, removedGroups []int64
	if req.GranteeType == "user" {
		err = s.sharing.RevokeUser(ctx, modelName, uid, req.GranteeID, relation)
		removedAccounts = []int64{req.GranteeID}
	} else {
		err = s.sharing.RevokeGroup(ctx, modelName, uid, req.GranteeID, relation)
		removedGroups = []int64{req.GranteeID}
	}
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyGrantChanged(modelName, uid, removedAccounts, removedGroups)
	httputil.WriteNoContent(w)
}
