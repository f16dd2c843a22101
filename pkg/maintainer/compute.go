package maintainer

import (
	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/sharing"
)

// accountState is the live sharing-graph context of one account, loaded
// once per job and shared across batches.
type accountState struct {
	account *model.Account
	groups  map[int64]bool
	scopes  map[int64]bool
}

// computeReadWrite derives the fresh read and write qualification of an
// account over a batch of instances. An instance qualifies for write when
// the account owns it, holds an admin grant directly or through a group,
// or is staff with membership in the instance's scope. Write implies read;
// view grants extend read only.
func computeReadWrite(st *accountState, scoped bool, instances []model.EntityInstance, grants map[string]*sharing.GrantSet) (read, write map[string]bool) {
	read = make(map[string]bool, len(instances))
	write = make(map[string]bool, len(instances))

	for i := range instances {
		inst := &instances[i]
		g := grants[inst.UID]

		w := inst.CreatedBy == st.account.ID
		if !w && g != nil {
			if g.AdminUsers[st.account.ID] {
				w = true
			} else {
				for groupID := range g.AdminGroups {
					if st.groups[groupID] {
						w = true
						break
					}
				}
			}
		}
		if !w && scoped && st.account.IsStaff() && inst.ScopeID != nil && st.scopes[*inst.ScopeID] {
			w = true
		}

		r := w
		if !r && g != nil {
			if g.ViewUsers[st.account.ID] {
				r = true
			} else {
				for groupID := range g.ViewGroups {
					if st.groups[groupID] {
						r = true
						break
					}
				}
			}
		}

		if w {
			write[inst.UID] = true
		}
		if r {
			read[inst.UID] = true
		}
	}

	return read, write
}
