package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// Well-known keys inside a conversation state document. Everything else is
// owned by the remote agent and passed back untouched.
const (
	KeyApproved      = "approved"
	KeyTitle         = "game_title"
	KeySpecification = "game_specification"
	KeyImageURL      = "imageUrl"
)

// ErrInvalidID is returned for conversation ids that cannot be used as a
// storage key.
var ErrInvalidID = errors.New("invalid conversation id")

// State is the persisted per-conversation document: the remote agent's
// continuation payload plus an approved flag.
type State map[string]any

// StateStore persists one State per conversation id.
//
// Get on an unknown id returns an empty State and no error. Set overwrites
// the previous record. Remove succeeds for unknown ids.
type StateStore interface {
	Get(ctx context.Context, id string) (State, error)
	Set(ctx context.Context, id string, st State) error
	Remove(ctx context.Context, id string) error
}

// Empty reports whether the document has no fields.
func (s State) Empty() bool { return len(s) == 0 }

// Approved reports whether the conversation reached its terminal state.
func (s State) Approved() bool {
	v, _ := s[KeyApproved].(bool)
	return v
}

// Str returns the string stored under key, or "".
func (s State) Str(key string) string {
	v, _ := s[key].(string)
	return v
}

// Clone returns a shallow copy.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Encode serializes the document for the wire. A nil or empty State encodes
// as "{}".
func (s State) Encode() (string, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(s))
	if err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}
	return string(b), nil
}

// ParseState decodes a state document. It accepts a JSON object, a JSON
// string that itself contains an object (the agent returns its continuation
// state serialized), null, or empty input.
func ParseState(raw []byte) (State, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return State{}, nil
	}

	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decoding state string: %w", err)
		}
		if strings.TrimSpace(inner) == "" {
			return State{}, nil
		}
		return ParseState([]byte(inner))
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decoding state: %w", err)
	}
	if st == nil {
		st = State{}
	}
	return st, nil
}

// ValidateID rejects ids no backend can store. Path separators are
// allowed (IRC channel names may contain "/"); the file backend escapes
// them.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsRune(id, 0):
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidID, id)
	}
	return nil
}
