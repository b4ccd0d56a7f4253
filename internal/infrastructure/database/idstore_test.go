package database

import (
	"context"
	"errors"
	"testing"
)

func TestIDStore_AssignID(t *testing.T) {
	ctx := context.Background()

	t.Run("generates once and never again", func(t *testing.T) {
		store := NewIDStore(openTestDB(t))

		first, err := store.AssignID(ctx, "servers", "http", "")
		if err != nil {
			t.Fatalf("AssignID() error = %v", err)
		}
		if first == "" {
			t.Fatal("AssignID() returned empty id")
		}

		for i := 0; i < 3; i++ {
			again, err := store.AssignID(ctx, "servers", "http", "")
			if err != nil {
				t.Fatalf("AssignID() error = %v", err)
			}
			if again != first {
				t.Errorf("AssignID() call %d = %q, want %q", i, again, first)
			}
		}
	})

	t.Run("keeps id supplied by config", func(t *testing.T) {
		store := NewIDStore(openTestDB(t))

		got, err := store.AssignID(ctx, "interfaces", "peer", "from-config")
		if err != nil {
			t.Fatalf("AssignID() error = %v", err)
		}
		if got != "from-config" {
			t.Errorf("AssignID() = %q, want from-config", got)
		}

		stored, err := store.Lookup(ctx, "interfaces", "peer")
		if err != nil {
			t.Fatalf("Lookup() error = %v", err)
		}
		if stored != "from-config" {
			t.Errorf("Lookup() = %q, want from-config", stored)
		}
	})

	t.Run("sections are independent", func(t *testing.T) {
		store := NewIDStore(openTestDB(t))

		a, _ := store.AssignID(ctx, "servers", "http", "")     //nolint:errcheck // checked via comparison
		b, _ := store.AssignID(ctx, "interfaces", "http", "") //nolint:errcheck // checked via comparison
		if a == "" || a == b {
			t.Errorf("ids for different sections: %q and %q", a, b)
		}
	})

	t.Run("rejects empty key", func(t *testing.T) {
		store := NewIDStore(openTestDB(t))

		if _, err := store.AssignID(ctx, "", "http", ""); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("AssignID() error = %v, want ErrEmptyKey", err)
		}
	})
}

func TestIDStore_LookupMissing(t *testing.T) {
	store := NewIDStore(openTestDB(t))

	got, err := store.Lookup(context.Background(), "servers", "ssdp")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got != "" {
		t.Errorf("Lookup() = %q, want empty", got)
	}
}
