package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/soyeahso/chaincraft/internal/logging"
)

// FileStore keeps each conversation in <dir>/<id>.json, with "/", "\"
// and "%" in the id percent-escaped.
type FileStore struct {
	fs  afero.Fs
	dir string
	log *logging.Logger
}

// NewFileStore creates a store rooted at dir on the given filesystem.
// A nil fs means the OS filesystem.
func NewFileStore(fsys afero.Fs, dir string, log *logging.Logger) *FileStore {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if dir == "" {
		dir = "."
	}
	return &FileStore{fs: fsys, dir: dir, log: log.Sub("state.file")}
}

// fileNames escapes the characters that would take an id out of the
// state directory. "%" is escaped too so distinct ids never share a file.
var fileNames = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C")

func fileName(id string) string {
	return fileNames.Replace(id)
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, fileName(id)+".json")
}

// Get loads the state for id. A missing file is an empty state.
func (s *FileStore) Get(_ context.Context, id string) (State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %s: %w", id, err)
	}

	st, err := ParseState(data)
	if err != nil {
		return nil, fmt.Errorf("state %s: %w", id, err)
	}
	return st, nil
}

// Set writes the state for id, replacing any previous file atomically.
func (s *FileStore) Set(_ context.Context, id string, st State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if st == nil {
		st = State{}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state %s: %w", id, err)
	}

	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, "."+fileName(id)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("writing state %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("closing state %s: %w", id, err)
	}
	if err := s.fs.Rename(tmpName, s.path(id)); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("renaming state %s: %w", id, err)
	}

	s.log.Debug().Str("conversation", id).Int("bytes", len(data)).Msg("state saved")
	return nil
}

// Remove deletes the state for id. Missing files are not an error.
func (s *FileStore) Remove(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	err := s.fs.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing state %s: %w", id, err)
	}
	return nil
}
