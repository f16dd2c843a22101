package scopes

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meridianhq/meridian/pkg/model"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE scopes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE scope_members (
			scope_id INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			PRIMARY KEY (scope_id, account_id)
		);

		CREATE TABLE scope_unsubscribed (
			scope_id INTEGER NOT NULL,
			account_id INTEGER NOT NULL,
			unsubscribed_at TIMESTAMP NOT NULL,
			PRIMARY KEY (scope_id, account_id)
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create test tables: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestCreateAndGetScope(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	scope := &model.Scope{Name: "acme"}
	if err := store.CreateScope(ctx, scope); err != nil {
		t.Fatalf("CreateScope failed: %v", err)
	}
	if scope.ID == 0 {
		t.Fatal("expected assigned scope id")
	}

	got, err := store.GetScope(ctx, scope.ID)
	if err != nil {
		t.Fatalf("GetScope failed: %v", err)
	}
	if got.Name != "acme" {
		t.Errorf("unexpected scope: %+v", got)
	}

	if _, err := store.GetScope(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMembership(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	scope := &model.Scope{Name: "acme"}
	if err := store.CreateScope(ctx, scope); err != nil {
		t.Fatalf("CreateScope failed: %v", err)
	}

	if err := store.AddMember(ctx, scope.ID, 1); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if err := store.AddMember(ctx, scope.ID, 1); err != nil {
		t.Fatalf("repeated AddMember failed: %v", err)
	}

	ok, err := store.IsMember(ctx, scope.ID, 1)
	if err != nil || !ok {
		t.Fatalf("expected membership, got ok=%v err=%v", ok, err)
	}

	ids, err := store.ScopesOf(ctx, 1)
	if err != nil {
		t.Fatalf("ScopesOf failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != scope.ID {
		t.Errorf("unexpected scopes: %v", ids)
	}

	if err := store.RemoveMember(ctx, scope.ID, 1); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}
	ids, _ = store.ScopesOf(ctx, 1)
	if len(ids) != 0 {
		t.Errorf("expected no scopes after removal, got %v", ids)
	}
}

func TestUnsubscribe(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	scope := &model.Scope{Name: "acme"}
	if err := store.CreateScope(ctx, scope); err != nil {
		t.Fatalf("CreateScope failed: %v", err)
	}
	if err := store.AddMember(ctx, scope.ID, 1); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	if err := store.Unsubscribe(ctx, scope.ID, 1); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	// Unsubscribed members fall out of the effective scope set but remain
	// listed as raw members.
	ids, _ := store.ScopesOf(ctx, 1)
	if len(ids) != 0 {
		t.Errorf("unsubscribed scope still effective: %v", ids)
	}
	members, _ := store.Members(ctx, scope.ID)
	if len(members) != 1 {
		t.Errorf("expected raw membership to remain, got %v", members)
	}
	ok, _ := store.IsMember(ctx, scope.ID, 1)
	if ok {
		t.Error("unsubscribed member reported effective")
	}

	if err := store.Resubscribe(ctx, scope.ID, 1); err != nil {
		t.Fatalf("Resubscribe failed: %v", err)
	}
	ids, _ = store.ScopesOf(ctx, 1)
	if len(ids) != 1 {
		t.Errorf("expected scope back after resubscribe, got %v", ids)
	}

	// Re-adding a member also clears unsubscription.
	if err := store.Unsubscribe(ctx, scope.ID, 1); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if err := store.AddMember(ctx, scope.ID, 1); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	ok, _ = store.IsMember(ctx, scope.ID, 1)
	if !ok {
		t.Error("expected AddMember to clear unsubscription")
	}
}
