package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fileRecord is the on-disk shape. The key names are the same ones the
// rest of the system treats as the observable storage contract.
type fileRecord struct {
	AccessToken  string `json:"foundry_access_token"`
	RefreshToken string `json:"foundry_refresh_token,omitempty"`
	ExpiresAt    int64  `json:"foundry_token_expires"` // epoch milliseconds
}

// FileStore persists the credential as a JSON file with 0600 permissions.
// Writes go through a temp file and rename so a crash never leaves a
// half-written credential behind.
type FileStore struct {
	path string

	mu        sync.RWMutex
	cred      Credential
	present   bool
	listeners map[int]func()
	nextID    int
}

// NewFileStore opens (or creates the directory for) a file-backed store.
// An existing file is loaded; a missing file starts empty.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, listeners: make(map[int]func())}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create credential directory: %w", err)
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse credential file %s: %w", path, err)
	}
	if rec.AccessToken != "" {
		s.cred = Credential{
			AccessToken:  rec.AccessToken,
			RefreshToken: rec.RefreshToken,
			ExpiresAt:    time.UnixMilli(rec.ExpiresAt),
		}
		s.present = true
	}
	return s, nil
}

func (s *FileStore) Get() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.present
}

func (s *FileStore) Set(c Credential) error {
	s.mu.Lock()
	rec := fileRecord{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		ExpiresAt:    c.ExpiresAt.UnixMilli(),
	}
	if err := s.writeLocked(rec); err != nil {
		s.mu.Unlock()
		return err
	}
	s.cred = c
	s.present = true
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.mu.Unlock()
		return fmt.Errorf("remove credential file: %w", err)
	}
	s.cred = Credential{}
	s.present = false
	fns := s.snapshotListeners()
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (s *FileStore) OnChange(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *FileStore) writeLocked(rec fileRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (s *FileStore) snapshotListeners() []func() {
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	return fns
}
