package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const CurrentVersion = 1

type fileState struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// FileStore keeps all keys in one JSON document. Every read and
// read-modify-write runs under an exclusive flock on a sibling lock file, and
// writes go through a tmp file + rename, so concurrent processes see either
// the old or the new document. Conflicting writers are last-writer-wins.
type FileStore struct {
	path     string
	lockPath string
}

// NewFileStore returns a FileStore backed by path. The file is created lazily.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("state file path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &FileStore{path: abs, lockPath: abs + ".lock"}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(key string) (string, bool, error) {
	key = strings.TrimSpace(key)
	var (
		value string
		ok    bool
	)
	err := withFileLock(s.lockPath, func() error {
		state, err := readState(s.path)
		if err != nil {
			return err
		}
		value, ok = state.Values[key]
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return value, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("key required")
	}
	return withFileLock(s.lockPath, func() error {
		state, err := readState(s.path)
		if err != nil {
			// An unreadable document is replaced rather than blocking writes.
			state = fileState{Version: CurrentVersion, Values: make(map[string]string)}
		}
		state.Values[key] = value
		state.Version = CurrentVersion
		return writeAtomicJSON(s.path, state)
	})
}

func readState(path string) (fileState, error) {
	empty := fileState{Version: CurrentVersion, Values: make(map[string]string)}
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty, nil
		}
		return fileState{}, err
	}
	if len(payload) == 0 {
		return empty, nil
	}

	var out fileState
	if err := json.Unmarshal(payload, &out); err == nil && out.Version > 0 {
		if out.Values == nil {
			out.Values = make(map[string]string)
		}
		return out, nil
	}

	// Legacy schema: a flat object of key -> string.
	var legacy map[string]string
	if err := json.Unmarshal(payload, &legacy); err != nil {
		return fileState{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if legacy == nil {
		legacy = make(map[string]string)
	}
	return fileState{Version: CurrentVersion, Values: legacy}, nil
}

func withFileLock(lockPath string, fn func() error) error {
	if strings.TrimSpace(lockPath) == "" {
		return fn()
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()
	return fn()
}

// writeAtomicJSON writes with 0600 permissions since the document holds tokens.
func writeAtomicJSON(path string, state fileState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
