// Package minio is a blob.Store on top of an S3 compatible bucket.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage/blob"
)

// StoreConfig is the configuration of the bucket blob store.
type StoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	// Prefix is prepended to every object key.
	Prefix string
	Logger log.Logger
}

// Validate checks the connection settings.
func (c StoreConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return errors.New("endpoint must be host:port, without scheme")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	return nil
}

func (c *StoreConfig) defaults() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "blob.MinIO"})
	return nil
}

// Store is a blob.Store that keeps every blob as an object named by its hash.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger log.Logger
}

// NewStore connects to the bucket endpoint and creates the bucket if missing.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("could not create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("could not check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("could not create bucket %s: %w", cfg.Bucket, err)
		}
		cfg.Logger.Infof("Created blob bucket %s", cfg.Bucket)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: cfg.Logger,
	}, nil
}

var _ blob.Store = &Store{}

// Put uploads the content unless an object with its hash already exists.
func (s *Store) Put(ctx context.Context, content []byte) (string, error) {
	hash := model.ContentHash(content)
	key := ObjectKey(s.prefix, hash)

	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return hash, nil
	case !isNotFound(err):
		return "", fmt.Errorf("could not stat object %s: %w", key, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("could not put object %s: %w", key, err)
	}
	s.logger.Debugf("Stored blob %s (%d bytes)", hash, len(content))

	return hash, nil
}

// Get downloads the object of a hash and checks its content hashes back to it.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := blob.ValidateHash(hash); err != nil {
		return nil, err
	}
	key := ObjectKey(s.prefix, hash)

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("could not get object %s: %w", key, err)
	}
	defer obj.Close()

	content, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("blob %s: %w", hash, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not read object %s: %w", key, err)
	}
	if err := blob.CheckContent(hash, content); err != nil {
		return nil, err
	}

	return content, nil
}

// ObjectKey returns the object key of a hash. Keys are sharded by the first two hash chars.
func ObjectKey(prefix, hash string) string {
	shard := hash
	if len(hash) > 2 {
		shard = hash[:2]
	}
	return path.Join(prefix, "sha256", shard, hash)
}

func isNotFound(err error) bool {
	return minio.ToErrorResponse(err).StatusCode == http.StatusNotFound
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
