package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyKey is returned when an id is requested without a section or name.
var ErrEmptyKey = errors.New("database: section and name are required")

// IDStore persists the generated id of every configured server and interface.
//
// An id, once stored, is never regenerated. A caller that already holds an
// id (read from the config file) has it recorded as-is.
type IDStore struct {
	db *DB
}

// NewIDStore returns an IDStore backed by db. Migrate must have been run.
func NewIDStore(db *DB) *IDStore {
	return &IDStore{db: db}
}

// AssignID returns the persisted id for (section, name).
//
// Resolution order:
//  1. current, if non-empty (recorded if not yet stored)
//  2. the id stored by an earlier call
//  3. a new random UUID, which is stored before returning
func (s *IDStore) AssignID(ctx context.Context, section, name, current string) (string, error) {
	if section == "" || name == "" {
		return "", ErrEmptyKey
	}

	stored, err := s.Lookup(ctx, section, name)
	if err != nil {
		return "", err
	}

	switch {
	case current != "" && stored == current:
		return current, nil
	case current != "":
		if err := s.put(ctx, section, name, current); err != nil {
			return "", err
		}
		return current, nil
	case stored != "":
		return stored, nil
	}

	id := uuid.NewString()
	if err := s.put(ctx, section, name, id); err != nil {
		return "", err
	}
	return id, nil
}

// Lookup returns the stored id for (section, name), or "" if none.
func (s *IDStore) Lookup(ctx context.Context, section, name string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT generated_id FROM generated_ids WHERE section = ? AND name = ?",
		section, name,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up generated id: %w", err)
	}
	return id, nil
}

func (s *IDStore) put(ctx context.Context, section, name, id string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generated_ids (section, name, generated_id, assigned_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (section, name) DO UPDATE SET
			generated_id = excluded.generated_id,
			assigned_at = excluded.assigned_at
	`, section, name, id, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storing generated id: %w", err)
	}
	return nil
}
