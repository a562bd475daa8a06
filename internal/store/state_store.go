package store

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"sync"

	"cdmkit/internal/domain"
)

const stateDir = "sessions"

// StateFileStore keeps paused session blobs under <dir>/sessions, one file
// per session. With a passphrase every blob is sealed.
type StateFileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// StateOption configures a StateFileStore.
type StateOption func(*StateFileStore)

// WithPassphrase seals stored blobs with passphrase.
func WithPassphrase(passphrase string) StateOption {
	return func(s *StateFileStore) { s.passphrase = passphrase }
}

// NewStateFileStore returns a StateFileStore rooted at dir.
func NewStateFileStore(dir string, opts ...StateOption) *StateFileStore {
	s := &StateFileStore{dir: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session ids may contain '/' and '+', so file names are hex.
func (s *StateFileStore) path(id string) string {
	return filepath.Join(s.dir, stateDir, hex.EncodeToString([]byte(id))+".json")
}

// SaveState stores state under id, replacing any previous blob.
func (s *StateFileStore) SaveState(_ context.Context, id string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := state
	if s.passphrase != "" {
		var err error
		if b, err = seal(s.passphrase, state, defaultScrypt); err != nil {
			return err
		}
	}
	return writeFile(s.path(id), b, 0o600)
}

// LoadState returns the blob saved under id and whether there was one.
func (s *StateFileStore) LoadState(_ context.Context, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := readFile(s.path(id))
	if err != nil || b == nil {
		return nil, false, err
	}
	if s.passphrase != "" {
		if b, err = open(s.passphrase, b); err != nil {
			return nil, false, err
		}
	}
	return b, true, nil
}

// DeleteState removes the blob saved under id.
func (s *StateFileStore) DeleteState(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeFile(s.path(id))
}

// Compile-time assertion that StateFileStore implements domain.StateStore.
var _ domain.StateStore = (*StateFileStore)(nil)
