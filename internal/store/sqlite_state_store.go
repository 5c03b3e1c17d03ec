package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SQLiteStateStore keeps conversation state in the conversation_state table.
type SQLiteStateStore struct {
	db *DB
}

// NewSQLiteStateStore returns a StateStore backed by db.
func NewSQLiteStateStore(db *DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: db}
}

func (s *SQLiteStateStore) Get(ctx context.Context, id string) (State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.sql.QueryRowContext(ctx,
		"SELECT document FROM conversation_state WHERE id = ?", id,
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state %s: %w", id, err)
	}

	st, err := ParseState([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("state %s: %w", id, err)
	}
	return st, nil
}

func (s *SQLiteStateStore) Set(ctx context.Context, id string, st State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if st == nil {
		st = State{}
	}

	doc, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state %s: %w", id, err)
	}

	_, err = s.db.sql.ExecContext(ctx, `
		INSERT INTO conversation_state (id, document) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = datetime('now')
	`, id, string(doc))
	if err != nil {
		return fmt.Errorf("saving state %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStateStore) Remove(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if _, err := s.db.sql.ExecContext(ctx, "DELETE FROM conversation_state WHERE id = ?", id); err != nil {
		return fmt.Errorf("removing state %s: %w", id, err)
	}
	return nil
}
