package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage/blob"
)

// BlobStoreConfig is the configuration for the SQLite blob store.
type BlobStoreConfig struct {
	DB     *sql.DB
	Logger log.Logger
}

func (c *BlobStoreConfig) defaults() error {
	if c.DB == nil {
		return fmt.Errorf("db is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLiteBlobs"})
	return nil
}

// BlobStore is a blob.Store on the blobs table of a migrated database.
type BlobStore struct {
	db     *sql.DB
	logger log.Logger
}

// NewBlobStore creates a new SQLite blob store.
func NewBlobStore(cfg BlobStoreConfig) (*BlobStore, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &BlobStore{db: cfg.DB, logger: cfg.Logger}, nil
}

var _ blob.Store = &BlobStore{}

func (s *BlobStore) Put(ctx context.Context, content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}
	hash := model.ContentHash(content)

	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO blobs (sha256, content) VALUES (?, ?)`, hash, content)
	if err != nil {
		return "", fmt.Errorf("could not insert blob: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debugf("Stored blob %s (%d bytes)", hash, len(content))
	}

	return hash, nil
}

func (s *BlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := blob.ValidateHash(hash); err != nil {
		return nil, err
	}

	var content []byte
	err := s.db.QueryRowContext(ctx, `SELECT content FROM blobs WHERE sha256 = ?`, hash).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("blob %s: %w", hash, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query blob: %w", err)
	}
	if content == nil {
		content = []byte{}
	}

	return content, nil
}
