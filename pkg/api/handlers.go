package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/middleware"
	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/query"
)

// listInstances serves windowed listings. timestamp_start/timestamp_end
// select the sync window; a zero start is a full listing. The scope query
// parameter narrows results to a single scope and is mandatory-strict:
// malformed selectors fail the request.
func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["model"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if err := s.authorizer.AuthorizeRequest(ctx, account, modelName, model.OpRetrieve); err != nil {
		s.writeDomainError(w, err)
		return
	}

	start, err := httputil.ParseQueryInt64(r, "timestamp_start", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid timestamp_start")
		return
	}
	end, err := httputil.ParseQueryInt64(r, "timestamp_end", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid timestamp_end")
		return
	}

	selector := httputil.ParseQueryString(r, "scope", "")
	authorized, err := s.authorizer.FilterQueryset(ctx, account, query.ForModel(modelName), selector)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	// Request-level filters narrow the visible set below what the caller
	// is authorized to see; instances that fall out of view inside the
	// window surface as deletions.
	visible := authorized.Clone()
	if r.URL.Query().Has("public") {
		publicOnly, err := httputil.ParseQueryBool(r, "public", false)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid public filter")
			return
		}
		visible = visible.Where("public = ?", publicOnly)
	}
	if r.URL.Query().Has("created_by") {
		creator, err := httputil.ParseQueryInt64(r, "created_by", 0)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid created_by filter")
			return
		}
		visible = visible.Where("created_by = ?", creator)
	}

	listing, err := s.engine.WindowedListing(ctx, authorized, visible, start, end)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.metrics.WindowedListingsTotal.WithLabelValues(modelName).Inc()
	httputil.WriteSuccess(w, listing)
}

type createInstanceRequest struct {
	UID     string `json:"uid,omitempty"`
	ScopeID *int64 `json:"scope_id,omitempty"`
	Public  bool   `json:"public"`
	Payload string `json:"payload,omitempty"`
}

func (s *Server) createInstance(w http.ResponseWriter, r *http.Request) {
	modelName := mux.Vars(r)["model"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if err := s.authorizer.AuthorizeRequest(ctx, account, modelName, model.OpCreate); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createInstanceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	registry := s.schemas.Current()
	if req.ScopeID != nil {
		if !registry.IsScoped(modelName) {
			httputil.WriteBadRequest(w, "model is not scoped")
			return
		}
		if _, err := s.scopes.GetScope(ctx, *req.ScopeID); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	uid := req.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	now := time.Now().UTC()
	inst := &model.EntityInstance{
		UID:       uid,
		ModelName: modelName,
		ScopeID:   req.ScopeID,
		Public:    req.Public,
		CreatedBy: account.ID,
		Payload:   req.Payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sharing.CreateInstance(ctx, inst); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyInstanceCreated(modelName, uid)
	httputil.WriteCreated(w, inst)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, uid := vars["model"], vars["uid"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if err := s.authorizer.AuthorizeRequest(ctx, account, modelName, model.OpRetrieve); err != nil {
		s.writeDomainError(w, err)
		return
	}

	qs, err := s.authorizer.FilterQueryset(ctx, account, query.ForModel(modelName).Where("uid = ?", uid), "")
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	instances, err := qs.Instances(ctx, s.db)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(instances) == 0 {
		// Invisible and missing instances are indistinguishable.
		httputil.WriteNotFoundError(w, "instance not found")
		return
	}

	httputil.WriteSuccess(w, instances[0])
}

type updateInstanceRequest struct {
	Public  *bool   `json:"public,omitempty"`
	Payload *string `json:"payload,omitempty"`
}

func (s *Server) updateInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, uid := vars["model"], vars["uid"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if err := s.authorizer.AuthorizeRequest(ctx, account, modelName, model.OpUpdate); err != nil {
		s.writeDomainError(w, err)
		return
	}

	inst, err := s.checkWriteAccess(ctx, w, account, modelName, uid)
	if inst == nil || err != nil {
		return
	}

	var req updateInstanceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Public != nil {
		inst.Public = *req.Public
	}
	if req.Payload != nil {
		inst.Payload = *req.Payload
	}
	inst.UpdatedAt = time.Now().UTC()

	if err := s.sharing.UpdateInstance(ctx, inst); err != nil {
		s.writeDomainError(w, err)
		return
	}

	httputil.WriteSuccess(w, inst)
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	modelName, uid := vars["model"], vars["uid"]
	account := middleware.GetAccount(r)
	ctx := r.Context()

	if err := s.authorizer.AuthorizeRequest(ctx, account, modelName, model.OpDelete); err != nil {
		s.writeDomainError(w, err)
		return
	}

	inst, err := s.checkWriteAccess(ctx, w, account, modelName, uid)
	if inst == nil || err != nil {
		return
	}

	// Reachability has to be captured before the row and its grants go
	// away; the maintainer job can no longer derive it afterwards.
	affectedAccounts, affectedGroups, err := s.grantAudience(ctx, inst)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if err := s.sharing.DeleteInstance(ctx, modelName, uid); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.maintainer.NotifyGrantChanged(modelName, uid, affectedAccounts, affectedGroups)
	s.metrics.TombstonesTotal.Inc()
	httputil.WriteNoContent(w)
}

// checkWriteAccess loads the instance and verifies the caller may mutate
// it. It writes the response on failure and returns nil. Owners keep write
// access even before the maintainer has materialized their cache row.
func (s *Server) checkWriteAccess(ctx context.Context, w http.ResponseWriter, account *model.Account, modelName, uid string) (*model.EntityInstance, error) {
	inst, err := s.sharing.GetInstance(ctx, modelName, uid)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, err
	}

	if account == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, nil
	}
	if account.IsAdmin() || inst.CreatedBy == account.ID {
		return inst, nil
	}

	qs, err := s.authorizer.FilterQuerysetForWrite(ctx, account, query.ForModel(modelName).Where("uid = ?", uid), "")
	if err != nil {
		s.writeDomainError(w, err)
		return nil, err
	}
	uids, err := qs.UIDs(ctx, s.db)
	if err != nil {
		s.writeDomainError(w, err)
		return nil, err
	}
	if len(uids) == 0 {
		httputil.WriteForbidden(w, "write access required")
		return nil, nil
	}
	return inst, nil
}

// grantAudience collects every account and group whose cached permissions
// may reference the instance.
func (s *Server) grantAudience(ctx context.Context, inst *model.EntityInstance) ([]int64, []int64, error) {
	grants, err := s.sharing.GrantsFor(ctx, inst.ModelName, []string{inst.UID})
	if err != nil {
		return nil, nil, err
	}

	accountSet := map[int64]bool{inst.CreatedBy: true}
	groupSet := map[int64]bool{}
	if set, ok := grants[inst.UID]; ok {
		for id := range set.ViewUsers {
			accountSet[id] = true
		}
		for id := range set.AdminUsers {
			accountSet[id] = true
		}
		for id := range set.ViewGroups {
			groupSet[id] = true
		}
		for id := range set.AdminGroups {
			groupSet[id] = true
		}
	}
	if inst.ScopeID != nil {
		members, err := s.scopes.Members(ctx, *inst.ScopeID)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range members {
			accountSet[id] = true
		}
	}

	accounts := make([]int64, 0, len(accountSet))
	for id := range accountSet {
		accounts = append(accounts, id)
	}
	groups := make([]int64, 0, len(groupSet))
	for id := range groupSet {
		groups = append(groups, id)
	}
	return accounts, groups, nil
}
