package maintainer

// JobKind tags the trigger that produced a job.
type JobKind string

const (
	// KindScopeMembership recomputes one account over the scoped
	// instances of one scope after its membership changed.
	KindScopeMembership JobKind = "scope_membership"

	// KindGroupMembership recomputes one account over the instances
	// granting to one of its groups after its membership changed.
	KindGroupMembership JobKind = "group_membership"

	// KindInstanceCreated seeds cache rows for the creator and every
	// account already reachable from a newly created instance.
	KindInstanceCreated JobKind = "instance_created"

	// KindGrantChanged recomputes every account reachable through a
	// changed view/admin relation of one instance.
	KindGrantChanged JobKind = "grant_changed"

	// KindFullRecompute rebuilds one account's rows across all model
	// types, used for level changes and reconciliation sweeps.
	KindFullRecompute JobKind = "full_recompute"
)

// Job is one unit of cache maintenance work. Payloads carry ids only;
// handlers re-fetch live state so that retried or reordered jobs observe
// the sharing graph as it is, not as it was.
type Job struct {
	Kind JobKind

	// AccountID is the affected account for scope/group membership and
	// full recompute jobs.
	AccountID int64

	// ScopeID is set for scope membership jobs.
	ScopeID int64

	// GroupID is set for group membership jobs.
	GroupID int64

	// ModelName and UID identify the instance for instance-created and
	// grant-changed jobs.
	ModelName string
	UID       string

	// AffectedAccounts and AffectedGroups carry the ids removed from a
	// changed relation. Accounts still present are found by re-reading
	// the grants; removed ones would otherwise be unreachable.
	AffectedAccounts []int64
	AffectedGroups   []int64

	attempts int
}
