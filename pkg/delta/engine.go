package delta

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/query"
)

// ErrInvalidWindow is returned for a negative timestamp_start. Fatal;
// maps to 400.
var ErrInvalidWindow = errors.New("invalid sync window")

// Listing is the result of one windowed listing call. TimestampEnd is
// frozen on the first page and echoed by clients on subsequent pages so
// pagination stays consistent against a moving "now".
type Listing struct {
	Results      []model.EntityInstance `json:"results"`
	DeletedUIDs  []string               `json:"deleted_uids"`
	TimestampEnd int64                  `json:"timestamp_end"`
}

// Engine applies sync windows and tombstone propagation on top of
// authorized querysets.
type Engine struct {
	db         *sql.DB
	tombstones *Tombstones
}

// NewEngine creates a sync window engine.
func NewEngine(db *sql.DB, tombstones *Tombstones) *Engine {
	return &Engine{db: db, tombstones: tombstones}
}

// WindowedListing lists the instances of visible modified inside
// [start, end], in unix milliseconds. authorized is the account's full
// visibility queryset; visible is authorized plus the request's non-time
// filters. The difference between the two inside the window is reported
// in DeletedUIDs: an instance edited out of the filter match looks like a
// deletion to a syncing client. Tombstones in the window are included too.
//
// start == 0 means full listing: everything matching visible, no
// tombstones. start < 0 is fatal. end == 0 defaults to now, frozen and
// echoed for subsequent pages.
func (e *Engine) WindowedListing(ctx context.Context, authorized, visible *query.Queryset, start, end int64) (*Listing, error) {
	if start < 0 {
		return nil, fmt.Errorf("%w: timestamp_start %d", ErrInvalidWindow, start)
	}
	if end == 0 {
		end = time.Now().UTC().UnixMilli()
	}
	if end < start {
		return nil, fmt.Errorf("%w: timestamp_end %d precedes timestamp_start %d", ErrInvalidWindow, end, start)
	}

	if start == 0 {
		results, err := visible.Instances(ctx, e.db)
		if err != nil {
			return nil, err
		}
		return &Listing{
			Results:      results,
			DeletedUIDs:  []string{},
			TimestampEnd: end,
		}, nil
	}

	windowedVisible := visible.Where("updated_at >= ? AND updated_at <= ?", start, end)
	results, err := windowedVisible.Instances(ctx, e.db)
	if err != nil {
		return nil, err
	}

	deleted, err := e.tombstones.InWindow(ctx, visible.Model(), start, end)
	if err != nil {
		return nil, err
	}
	deletedSet := make(map[string]bool, len(deleted))
	for _, uid := range deleted {
		deletedSet[uid] = true
	}

	// an in-window edit that dropped the instance out of the request's
	// filters reads as a deletion to the client
	windowedAuthorized := authorized.Where("updated_at >= ? AND updated_at <= ?", start, end)
	authorizedUIDs, err := windowedAuthorized.UIDs(ctx, e.db)
	if err != nil {
		return nil, err
	}
	visibleSet := make(map[string]bool, len(results))
	for i := range results {
		visibleSet[results[i].UID] = true
	}
	for _, uid := range authorizedUIDs {
		if !visibleSet[uid] {
			deletedSet[uid] = true
		}
	}

	deletedUIDs := make([]string, 0, len(deletedSet))
	for uid := range deletedSet {
		deletedUIDs = append(deletedUIDs, uid)
	}
	sort.Strings(deletedUIDs)

	return &Listing{
		Results:      results,
		DeletedUIDs:  deletedUIDs,
		TimestampEnd: end,
	}, nil
}
