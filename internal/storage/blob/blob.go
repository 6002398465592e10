// Package blob stores artifact and input file contents addressed by their sha256.
package blob

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/slok/taskforge/internal/model"
)

// Store is a content-addressed blob store. Putting the same content twice is a no-op.
type Store interface {
	// Put stores the content and returns its hex sha256.
	Put(ctx context.Context, content []byte) (string, error)
	// Get returns the content of a hash, model.ErrNotFound if missing.
	Get(ctx context.Context, hash string) ([]byte, error)
}

var hashRe = regexp.MustCompile(`^[a-f0-9]{64}$`)

// ValidateHash checks the hash is a hex sha256.
func ValidateHash(hash string) error {
	if !hashRe.MatchString(hash) {
		return fmt.Errorf("blob hash %q is not a sha256: %w", hash, model.ErrNotValid)
	}
	return nil
}

// CheckContent checks the content read for a hash matches it.
func CheckContent(hash string, content []byte) error {
	if got := model.ContentHash(content); got != hash {
		return fmt.Errorf("blob %s content hashes to %s: %w", hash, got, model.ErrNotValid)
	}
	return nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	blobs map[string][]byte
	mu    sync.RWMutex
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

var _ Store = &MemoryStore{}

func (m *MemoryStore) Put(_ context.Context, content []byte) (string, error) {
	hash := model.ContentHash(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[hash]; !ok {
		m.blobs[hash] = append([]byte{}, content...)
	}

	return hash, nil
}

func (m *MemoryStore) Get(_ context.Context, hash string) ([]byte, error) {
	if err := ValidateHash(hash); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", hash, model.ErrNotFound)
	}

	return append([]byte{}, b...), nil
}

// PutFiles stores every file of the map and returns the name to hash index.
func PutFiles(ctx context.Context, s Store, files map[string][]byte) (map[string]string, error) {
	index := make(map[string]string, len(files))
	for name, content := range files {
		hash, err := s.Put(ctx, content)
		if err != nil {
			return nil, fmt.Errorf("could not store %q: %w", name, err)
		}
		index[name] = hash
	}
	return index, nil
}

// GetFiles loads every file of a name to hash index.
func GetFiles(ctx context.Context, s Store, index map[string]string) (map[string][]byte, error) {
	files := make(map[string][]byte, len(index))
	for name, hash := range index {
		content, err := s.Get(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("could not load %q: %w", name, err)
		}
		files[name] = content
	}
	return files, nil
}
