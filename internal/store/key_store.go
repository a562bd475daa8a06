package store

import (
	"encoding/json"
	"path/filepath"
	"sync"

	"cdmkit/internal/domain"
)

const keysFile = "keys.json.enc"

// KeyFileStore appends batches of recovered keys to one sealed file.
type KeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewKeyFileStore returns a KeyFileStore rooted at dir.
func NewKeyFileStore(dir string) *KeyFileStore {
	return &KeyFileStore{dir: dir}
}

// SaveKeys appends batch. The whole file is re-sealed with passphrase,
// which must open the existing file.
func (s *KeyFileStore) SaveKeys(passphrase string, batch domain.SavedKeys) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batches, err := s.load(passphrase)
	if err != nil {
		return err
	}
	batches = append(batches, batch)
	raw, err := json.Marshal(batches)
	if err != nil {
		return err
	}
	sealed, err := seal(passphrase, raw, defaultScrypt)
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, keysFile), sealed, 0o600)
}

// LoadKeys returns every saved batch, oldest first.
func (s *KeyFileStore) LoadKeys(passphrase string) ([]domain.SavedKeys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(passphrase)
}

func (s *KeyFileStore) load(passphrase string) ([]domain.SavedKeys, error) {
	b, err := readFile(filepath.Join(s.dir, keysFile))
	if err != nil || b == nil {
		return nil, err
	}
	raw, err := open(passphrase, b)
	if err != nil {
		return nil, err
	}
	var batches []domain.SavedKeys
	if err := json.Unmarshal(raw, &batches); err != nil {
		return nil, err
	}
	return batches, nil
}

// Compile-time assertion that KeyFileStore implements domain.KeyStore.
var _ domain.KeyStore = (*KeyFileStore)(nil)
