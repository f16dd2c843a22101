package delta_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meridianhq/meridian/internal/testdb"
	"github.com/meridianhq/meridian/pkg/delta"
	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/query"
	"github.com/meridianhq/meridian/pkg/sharing"
)

func setup(t *testing.T) (*delta.Engine, *sharing.Store) {
	t.Helper()
	db := testdb.New(t)
	tombstones := delta.NewTombstones(db)
	store := sharing.NewStore(db, tombstones)
	return delta.NewEngine(db, tombstones), store
}

func create(t *testing.T, store *sharing.Store, modelName string, public bool) *model.EntityInstance {
	t.Helper()
	inst := &model.EntityInstance{ModelName: modelName, Public: public, CreatedBy: 1}
	if err := store.CreateInstance(context.Background(), inst); err != nil {
		t.Fatalf("create: %v", err)
	}
	return inst
}

func contains(uids []string, uid string) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}

func TestNegativeStartIsFatal(t *testing.T) {
	engine, _ := setup(t)
	qs := query.ForModel("bulletin")

	_, err := engine.WindowedListing(context.Background(), qs, qs, -1, 0)
	if !errors.Is(err, delta.ErrInvalidWindow) {
		t.Errorf("got %v, want ErrInvalidWindow", err)
	}
}

func TestZeroStartIsFullListing(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()

	first := create(t, store, "bulletin", false)
	second := create(t, store, "bulletin", false)
	if err := store.DeleteInstance(ctx, "bulletin", second.UID); err != nil {
		t.Fatal(err)
	}

	qs := query.ForModel("bulletin")
	listing, err := engine.WindowedListing(ctx, qs, qs, 0, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(listing.Results) != 1 || listing.Results[0].UID != first.UID {
		t.Errorf("full listing = %d results, want only %s", len(listing.Results), first.UID)
	}
	// full listings skip tombstones
	if len(listing.DeletedUIDs) != 0 {
		t.Errorf("full listing carries deleted_uids %v, want none", listing.DeletedUIDs)
	}
	if listing.TimestampEnd == 0 {
		t.Error("timestamp_end not frozen")
	}
}

func TestCreateDeleteRoundTrip(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()

	windowStart := time.Now().UTC().UnixMilli()

	inst := create(t, store, "bulletin", false)
	if err := store.DeleteInstance(ctx, "bulletin", inst.UID); err != nil {
		t.Fatal(err)
	}

	qs := query.ForModel("bulletin")
	listing, err := engine.WindowedListing(ctx, qs, qs, windowStart, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(listing.Results) != 0 {
		t.Errorf("deleted instance still listed: %v", listing.Results)
	}
	if !contains(listing.DeletedUIDs, inst.UID) {
		t.Errorf("deleted_uids = %v, want %s", listing.DeletedUIDs, inst.UID)
	}
}

func TestWindowExcludesOlderInstances(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()

	old := create(t, store, "bulletin", false)

	// the window opens strictly after the first instance's timestamp
	windowStart := old.UpdatedAt.UnixMilli() + 1

	time.Sleep(5 * time.Millisecond)
	fresh := create(t, store, "bulletin", false)

	qs := query.ForModel("bulletin")
	listing, err := engine.WindowedListing(ctx, qs, qs, windowStart, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(listing.Results) != 1 || listing.Results[0].UID != fresh.UID {
		t.Errorf("windowed results = %v, want only %s", listing.Results, fresh.UID)
	}
}

func TestEditOutOfViewReportedAsDeletion(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()

	inst := create(t, store, "bulletin", true)
	windowStart := inst.UpdatedAt.UnixMilli()

	// the client filters on public; the edit drops the instance out of
	// that filter
	inst.Public = false
	if err := store.UpdateInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}

	authorized := query.ForModel("bulletin")
	visible := authorized.Where("public = ?", true)

	listing, err := engine.WindowedListing(ctx, authorized, visible, windowStart, 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(listing.Results) != 0 {
		t.Errorf("edited-out instance still in results: %v", listing.Results)
	}
	if !contains(listing.DeletedUIDs, inst.UID) {
		t.Errorf("deleted_uids = %v, want %s", listing.DeletedUIDs, inst.UID)
	}
}

func TestFrozenEndExcludesLaterEdits(t *testing.T) {
	engine, store := setup(t)
	ctx := context.Background()

	inst := create(t, store, "bulletin", false)
	windowStart := inst.UpdatedAt.UnixMilli()

	qs := query.ForModel("bulletin")
	first, err := engine.WindowedListing(ctx, qs, qs, windowStart, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Results) != 1 {
		t.Fatalf("first page = %d results, want 1", len(first.Results))
	}

	// an edit after the frozen end must not appear when the client echoes
	// timestamp_end
	time.Sleep(5 * time.Millisecond)
	later := create(t, store, "bulletin", false)

	second, err := engine.WindowedListing(ctx, qs, qs, windowStart, first.TimestampEnd)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range second.Results {
		if r.UID == later.UID {
			t.Error("instance created after frozen end leaked into the window")
		}
	}
}

func TestEndBeforeStartIsFatal(t *testing.T) {
	engine, _ := setup(t)
	qs := query.ForModel("bulletin")

	_, err := engine.WindowedListing(context.Background(), qs, qs, 100, 50)
	if !errors.Is(err, delta.ErrInvalidWindow) {
		t.Errorf("got %v, want ErrInvalidWindow", err)
	}
}
