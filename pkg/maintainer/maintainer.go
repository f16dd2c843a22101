package maintainer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meridianhq/meridian/pkg/accounts"
	"github.com/meridianhq/meridian/pkg/async"
	"github.com/meridianhq/meridian/pkg/level"
	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/permcache"
	"github.com/meridianhq/meridian/pkg/scopes"
	"github.com/meridianhq/meridian/pkg/schema"
	"github.com/meridianhq/meridian/pkg/sharing"
)

// Options tunes the maintainer's worker pool and retry behavior.
type Options struct {
	Workers     int
	QueueSize   int
	BatchSize   int
	MaxAttempts int
	JobTimeout  time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Workers:     4,
		QueueSize:   1024,
		BatchSize:   500,
		MaxAttempts: 3,
		JobTimeout:  time.Minute,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = d.JobTimeout
	}
	return o
}

// Maintainer keeps the permission cache consistent with the sharing graph.
// Mutation sites enqueue typed jobs fire-and-forget; a worker pool consumes
// them at-least-once. Handlers re-fetch live state and apply the batch-local
// merge rule, so retries and reordering never corrupt unrelated entries.
type Maintainer struct {
	sharing  *sharing.Store
	accounts *accounts.Store
	scopes   *scopes.Store
	cache    *permcache.Cache
	schemas  schema.Provider

	pool    *async.WorkerPool
	logger  *observability.Logger
	metrics *observability.Metrics
	opts    Options
}

// New creates a maintainer and starts its worker pool.
func New(ctx context.Context, sharingStore *sharing.Store, accountStore *accounts.Store, scopeStore *scopes.Store, cache *permcache.Cache, schemas schema.Provider, logger *observability.Logger, metrics *observability.Metrics, opts Options) *Maintainer {
	opts = opts.withDefaults()

	return &Maintainer{
		sharing:  sharingStore,
		accounts: accountStore,
		scopes:   scopeStore,
		cache:    cache,
		schemas:  schemas,
		pool:     async.NewWorkerPool(ctx, logger, opts.Workers, "permission recompute", opts.JobTimeout, opts.QueueSize),
		logger:   logger.WithField("component", "maintainer"),
		metrics:  metrics,
		opts:     opts,
	}
}

// Close drains the worker pool.
func (m *Maintainer) Close() error {
	return m.pool.Shutdown(10 * time.Second)
}

// NotifyScopeMembership schedules a recompute of one account over the
// scoped instances of one scope. Called on both add and remove.
func (m *Maintainer) NotifyScopeMembership(accountID, scopeID int64) {
	m.enqueue(Job{Kind: KindScopeMembership, AccountID: accountID, ScopeID: scopeID})
}

// NotifyGroupMembership schedules a recompute of one account over the
// instances granting to one group. Called on both add and remove.
func (m *Maintainer) NotifyGroupMembership(accountID, groupID int64) {
	m.enqueue(Job{Kind: KindGroupMembership, AccountID: accountID, GroupID: groupID})
}

// NotifyInstanceCreated seeds cache rows for every account reachable from
// a newly created instance.
func (m *Maintainer) NotifyInstanceCreated(modelName, uid string) {
	m.enqueue(Job{Kind: KindInstanceCreated, ModelName: modelName, UID: uid})
}

// NotifyGrantChanged schedules a recompute for every account reachable
// through a changed grant relation. removedAccounts and removedGroups name
// the ids taken off the relation; ids still present are rediscovered from
// the live grants.
func (m *Maintainer) NotifyGrantChanged(modelName, uid string, removedAccounts, removedGroups []int64) {
	m.enqueue(Job{
		Kind:             KindGrantChanged,
		ModelName:        modelName,
		UID:              uid,
		AffectedAccounts: removedAccounts,
		AffectedGroups:   removedGroups,
	})
}

// NotifyLevelChanged reacts to an account's level crossing the admin
// boundary or its activation after being blocked.
func (m *Maintainer) NotifyLevelChanged(accountID int64, previous, current level.Level) {
	if previous.IsAdmin() == current.IsAdmin() && previous.IsActive() == current.IsActive() {
		return
	}
	m.enqueue(Job{Kind: KindFullRecompute, AccountID: accountID})
}

// NotifyFullRecompute schedules a full rebuild of one account's rows.
func (m *Maintainer) NotifyFullRecompute(accountID int64) {
	m.enqueue(Job{Kind: KindFullRecompute, AccountID: accountID})
}

func (m *Maintainer) enqueue(job Job) {
	if m.metrics != nil {
		m.metrics.JobsEnqueuedTotal.WithLabelValues(string(job.Kind)).Inc()
	}

	submitted := m.pool.TrySubmit(func(ctx context.Context) error {
		m.process(ctx, job)
		return nil
	})
	if !submitted {
		if m.metrics != nil {
			m.metrics.JobsDroppedTotal.WithLabelValues(string(job.Kind)).Inc()
		}
		m.logger.WithField("kind", job.Kind).Error("Job queue full, dropping job")
		return
	}

	if m.metrics != nil {
		m.metrics.JobQueueDepth.Set(float64(m.pool.QueueDepth()))
	}
}

func (m *Maintainer) process(ctx context.Context, job Job) {
	start := time.Now()
	err := m.handle(ctx, job)

	if m.metrics != nil {
		m.metrics.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
		m.metrics.JobQueueDepth.Set(float64(m.pool.QueueDepth()))
	}

	if err == nil {
		if m.metrics != nil {
			m.metrics.JobsProcessedTotal.WithLabelValues(string(job.Kind), "ok").Inc()
		}
		return
	}

	if m.metrics != nil {
		m.metrics.JobsProcessedTotal.WithLabelValues(string(job.Kind), "error").Inc()
	}

	job.attempts++
	if job.attempts < m.opts.MaxAttempts {
		if m.metrics != nil {
			m.metrics.JobsRetriedTotal.WithLabelValues(string(job.Kind)).Inc()
		}
		m.logger.WithError(err).
			WithField("kind", job.Kind).
			WithField("attempt", job.attempts).
			Warn("Job failed, retrying")
		m.enqueue(job)
		return
	}

	// at-least-once with a bounded attempt count: permanent failure is
	// logged and left to the reconciliation sweep
	if m.metrics != nil {
		m.metrics.JobsDroppedTotal.WithLabelValues(string(job.Kind)).Inc()
	}
	m.logger.WithError(err).
		WithField("kind", job.Kind).
		Error("Job failed permanently")
}

func (m *Maintainer) handle(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindScopeMembership:
		return m.handleScopeMembership(ctx, job)
	case KindGroupMembership:
		return m.handleGroupMembership(ctx, job)
	case KindInstanceCreated:
		return m.handleInstanceCreated(ctx, job)
	case KindGrantChanged:
		return m.handleGrantChanged(ctx, job)
	case KindFullRecompute:
		return m.handleFullRecompute(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func (m *Maintainer) handleScopeMembership(ctx context.Context, job Job) error {
	st, err := m.loadAccountState(ctx, job.AccountID)
	if err != nil || st == nil {
		return err
	}

	reg := m.schemas.Current()
	for _, modelName := range reg.ScopedModelNames() {
		err := m.forEachBatch(func(afterUID string) ([]model.EntityInstance, error) {
			return m.sharing.InstancesInScopes(ctx, modelName, []int64{job.ScopeID}, afterUID, m.opts.BatchSize)
		}, func(batch []model.EntityInstance) error {
			return m.recomputeBatch(ctx, st, modelName, batch, nil)
		})
		if err != nil {
			return fmt.Errorf("scope membership recompute for %s: %w", modelName, err)
		}
	}
	return nil
}

func (m *Maintainer) handleGroupMembership(ctx context.Context, job Job) error {
	st, err := m.loadAccountState(ctx, job.AccountID)
	if err != nil || st == nil {
		return err
	}

	reg := m.schemas.Current()
	for _, modelName := range reg.ModelNames() {
		err := m.forEachBatch(func(afterUID string) ([]model.EntityInstance, error) {
			return m.sharing.InstancesGrantingGroups(ctx, modelName, []int64{job.GroupID}, afterUID, m.opts.BatchSize)
		}, func(batch []model.EntityInstance) error {
			return m.recomputeBatch(ctx, st, modelName, batch, nil)
		})
		if err != nil {
			return fmt.Errorf("group membership recompute for %s: %w", modelName, err)
		}
	}
	return nil
}

func (m *Maintainer) handleInstanceCreated(ctx context.Context, job Job) error {
	inst, err := m.sharing.GetInstance(ctx, job.ModelName, job.UID)
	if errors.Is(err, sharing.ErrNotFound) {
		// deleted before the job ran; the delete path owns cleanup
		return nil
	}
	if err != nil {
		return err
	}

	affected, err := m.reachableAccounts(ctx, inst, nil, nil)
	if err != nil {
		return err
	}

	batch := []model.EntityInstance{*inst}
	for accountID := range affected {
		st, err := m.loadAccountState(ctx, accountID)
		if err != nil {
			return err
		}
		if st == nil {
			continue
		}
		if err := m.recomputeBatch(ctx, st, job.ModelName, batch, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintainer) handleGrantChanged(ctx context.Context, job Job) error {
	universe := []string{job.UID}

	var batch []model.EntityInstance
	inst, err := m.sharing.GetInstance(ctx, job.ModelName, job.UID)
	switch {
	case errors.Is(err, sharing.ErrNotFound):
		// instance gone: recompute against an empty batch so the uid is
		// removed from every affected row
		inst = nil
	case err != nil:
		return err
	default:
		batch = []model.EntityInstance{*inst}
	}

	affected, err := m.reachableAccounts(ctx, inst, job.AffectedAccounts, job.AffectedGroups)
	if err != nil {
		return err
	}

	for accountID := range affected {
		st, err := m.loadAccountState(ctx, accountID)
		if err != nil {
			return err
		}
		if st == nil {
			continue
		}
		if err := m.recomputeBatch(ctx, st, job.ModelName, batch, universe); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintainer) handleFullRecompute(ctx context.Context, job Job) error {
	account, err := m.accounts.GetAccount(ctx, job.AccountID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	reg := m.schemas.Current()

	// admin+ access is computed live and blocked accounts have none;
	// either way cached rows are dead weight
	if account.IsAdmin() || !account.IsActive() {
		return m.cache.DropAccount(ctx, account.ID, reg.ModelNames())
	}

	st, err := m.loadAccountState(ctx, job.AccountID)
	if err != nil || st == nil {
		return err
	}

	// unlike the incremental jobs, a full recompute covers the whole
	// universe and therefore replaces the row instead of merging into it.
	// Rows are keyed (account, model), so the models rebuild in parallel.
	errs := async.Batch(ctx, m.logger, reg.ModelNames(), m.opts.Workers, "full recompute", m.opts.JobTimeout,
		func(ctx context.Context, modelName string) error {
			return m.recomputeModel(ctx, st, modelName)
		})
	return errors.Join(errs...)
}

// recomputeModel rebuilds one account's row for one model from scratch.
func (m *Maintainer) recomputeModel(ctx context.Context, st *accountState, modelName string) error {
	reg := m.schemas.Current()
	scoped := reg.IsScoped(modelName)
	readSet := make(map[string]bool)
	writeSet := make(map[string]bool)

	err := m.forEachBatch(func(afterUID string) ([]model.EntityInstance, error) {
		return m.sharing.ListInstances(ctx, modelName, afterUID, m.opts.BatchSize)
	}, func(batch []model.EntityInstance) error {
		uids := make([]string, 0, len(batch))
		for i := range batch {
			uids = append(uids, batch[i].UID)
		}
		grants, err := m.sharing.GrantsFor(ctx, modelName, uids)
		if err != nil {
			return err
		}
		read, write := computeReadWrite(st, scoped, batch, grants)
		for uid := range read {
			readSet[uid] = true
		}
		for uid := range write {
			writeSet[uid] = true
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("full recompute for %s: %w", modelName, err)
	}

	current, err := m.cache.Store().Get(ctx, st.account.ID, modelName)
	if err != nil {
		return err
	}
	if current == nil && len(readSet) == 0 && len(writeSet) == 0 {
		return nil
	}

	row := &model.InstancePermission{
		AccountID: st.account.ID,
		ModelName: modelName,
		ReadUIDs:  sortedKeys(readSet),
		WriteUIDs: sortedKeys(writeSet),
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.cache.Put(ctx, row); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.PermCacheWritesTotal.WithLabelValues(modelName).Inc()
	}
	return nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// loadAccountState fetches the account plus its group and scope
// memberships. Returns nil without error for accounts the cache never
// serves (missing, blocked, admin+).
func (m *Maintainer) loadAccountState(ctx context.Context, accountID int64) (*accountState, error) {
	account, err := m.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !account.IsActive() || account.IsAdmin() {
		return nil, nil
	}

	groupIDs, err := m.accounts.GroupsOf(ctx, accountID)
	if err != nil {
		return nil, err
	}
	scopeIDs, err := m.scopes.ScopesOf(ctx, accountID)
	if err != nil {
		return nil, err
	}

	st := &accountState{
		account: account,
		groups:  make(map[int64]bool, len(groupIDs)),
		scopes:  make(map[int64]bool, len(scopeIDs)),
	}
	for _, id := range groupIDs {
		st.groups[id] = true
	}
	for _, id := range scopeIDs {
		st.scopes[id] = true
	}
	return st, nil
}

// reachableAccounts collects every account id touching an instance:
// creator, user grants, members of granted groups, scope members, plus the
// explicitly named removed ids.
func (m *Maintainer) reachableAccounts(ctx context.Context, inst *model.EntityInstance, extraAccounts, extraGroups []int64) (map[int64]bool, error) {
	affected := make(map[int64]bool)
	for _, id := range extraAccounts {
		affected[id] = true
	}

	groupIDs := make(map[int64]bool)
	for _, id := range extraGroups {
		groupIDs[id] = true
	}

	if inst != nil {
		affected[inst.CreatedBy] = true

		grants, err := m.sharing.GrantsFor(ctx, inst.ModelName, []string{inst.UID})
		if err != nil {
			return nil, err
		}
		if g := grants[inst.UID]; g != nil {
			for id := range g.ViewUsers {
				affected[id] = true
			}
			for id := range g.AdminUsers {
				affected[id] = true
			}
			for id := range g.ViewGroups {
				groupIDs[id] = true
			}
			for id := range g.AdminGroups {
				groupIDs[id] = true
			}
		}

		if inst.ScopeID != nil {
			members, err := m.scopes.Members(ctx, *inst.ScopeID)
			if err != nil {
				return nil, err
			}
			for _, id := range members {
				affected[id] = true
			}
		}
	}

	for groupID := range groupIDs {
		members, err := m.accounts.GroupMembers(ctx, groupID)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			affected[id] = true
		}
	}

	return affected, nil
}

// forEachBatch pages through a keyset query until it runs dry.
func (m *Maintainer) forEachBatch(fetch func(afterUID string) ([]model.EntityInstance, error), apply func([]model.EntityInstance) error) error {
	afterUID := ""
	for {
		batch, err := fetch(afterUID)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := apply(batch); err != nil {
			return err
		}
		if len(batch) < m.opts.BatchSize {
			return nil
		}
		afterUID = batch[len(batch)-1].UID
	}
}

// recomputeBatch merges one account's fresh qualification over a batch
// into its cached row. The universe defaults to the batch uids; ids
// outside it are never touched.
func (m *Maintainer) recomputeBatch(ctx context.Context, st *accountState, modelName string, batch []model.EntityInstance, universe []string) error {
	if universe == nil {
		universe = make([]string, 0, len(batch))
		for i := range batch {
			universe = append(universe, batch[i].UID)
		}
	}
	universeSet := make(map[string]bool, len(universe))
	for _, uid := range universe {
		universeSet[uid] = true
	}

	uids := make([]string, 0, len(batch))
	for i := range batch {
		uids = append(uids, batch[i].UID)
	}
	grants, err := m.sharing.GrantsFor(ctx, modelName, uids)
	if err != nil {
		return err
	}

	scoped := m.schemas.Current().IsScoped(modelName)
	freshRead, freshWrite := computeReadWrite(st, scoped, batch, grants)

	current, err := m.cache.Store().Get(ctx, st.account.ID, modelName)
	if err != nil {
		return err
	}

	var currentRead, currentWrite []string
	if current != nil {
		currentRead = current.ReadUIDs
		currentWrite = current.WriteUIDs
	}

	mergedRead, readChanged := permcache.MergeUIDs(currentRead, freshRead, universeSet)
	mergedWrite, writeChanged := permcache.MergeUIDs(currentWrite, freshWrite, universeSet)

	// rows are created lazily: no row and nothing to grant means no write
	if current == nil && len(mergedRead) == 0 && len(mergedWrite) == 0 {
		return nil
	}
	if !readChanged && !writeChanged {
		return nil
	}

	row := &model.InstancePermission{
		AccountID: st.account.ID,
		ModelName: modelName,
		ReadUIDs:  mergedRead,
		WriteUIDs: mergedWrite,
		UpdatedAt: time.Now().UTC(),
	}
	if err := m.cache.Put(ctx, row); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.PermCacheWritesTotal.WithLabelValues(modelName).Inc()
	}
	return nil
}
