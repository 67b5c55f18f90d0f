package bids

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pcportal/portal-auth/internal/core/domain"
)

// TokenStore persists the session of one client between calls.
type TokenStore interface {
	// Load returns nil without error when nothing is stored.
	Load(ctx context.Context) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Clear(ctx context.Context) error
}

// MemoryTokenStore keeps the session for the lifetime of the process.
type MemoryTokenStore struct {
	mu   sync.RWMutex
	sess *domain.Session
}

func NewMemoryTokenStore() *MemoryTokenStore { return &MemoryTokenStore{} }

func (m *MemoryTokenStore) Load(context.Context) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.sess == nil {
		return nil, nil
	}
	c := *m.sess
	return &c, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, s *domain.Session) error {
	c := *s
	m.mu.Lock()
	m.sess = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenStore) Clear(context.Context) error {
	m.mu.Lock()
	m.sess = nil
	m.mu.Unlock()
	return nil
}

// FileTokenStore keeps the session in a JSON file readable only by the owner,
// so a shell can resume its session after a restart.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore { return &FileTokenStore{path: path} }

func (f *FileTokenStore) Load(context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	return &s, nil
}

// Save writes to a temporary file and renames it over the old one.
func (f *FileTokenStore) Save(_ context.Context, s *domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (f *FileTokenStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}
