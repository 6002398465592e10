package minio_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage/blob/minio"
)

func TestStoreConfigValidate(t *testing.T) {
	valid := func() minio.StoreConfig {
		return minio.StoreConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "taskforge",
			SecretKey: "taskforge-secret",
			Bucket:    "artifacts",
		}
	}

	tests := map[string]struct {
		cfg    func() minio.StoreConfig
		expErr bool
	}{
		"A complete config should be valid.": {
			cfg: valid,
		},

		"A missing endpoint should fail.": {
			cfg:    func() minio.StoreConfig { c := valid(); c.Endpoint = " "; return c },
			expErr: true,
		},

		"An endpoint with a scheme should fail.": {
			cfg:    func() minio.StoreConfig { c := valid(); c.Endpoint = "http://localhost:9000"; return c },
			expErr: true,
		},

		"Missing credentials should fail.": {
			cfg:    func() minio.StoreConfig { c := valid(); c.SecretKey = ""; return c },
			expErr: true,
		},

		"A missing bucket should fail.": {
			cfg:    func() minio.StoreConfig { c := valid(); c.Bucket = ""; return c },
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.cfg().Validate()
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	hash := model.ContentHash([]byte("a"))

	assert.Equal(t, "sha256/ca/"+hash, minio.ObjectKey("", hash))
	assert.Equal(t, "taskforge/blobs/sha256/ca/"+hash, minio.ObjectKey("taskforge/blobs", hash))
}

// TestStoreIntegration runs against a real S3 compatible endpoint, for example:
// `docker run -p 9000:9000 minio/minio server /data`.
func TestStoreIntegration(t *testing.T) {
	if os.Getenv("TASKFORGE_INTEGRATION_MINIO") != "true" {
		t.Skipf("Skipping integration test: TASKFORGE_INTEGRATION_MINIO is not set to 'true'")
	}

	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	s, err := minio.NewStore(ctx, minio.StoreConfig{
		Endpoint:  os.Getenv("TASKFORGE_MINIO_ENDPOINT"),
		AccessKey: os.Getenv("TASKFORGE_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("TASKFORGE_MINIO_SECRET_KEY"),
		Bucket:    "taskforge-test",
		Prefix:    t.Name(),
	})
	require.NoError(err)

	content := []byte("handle\n@bob\n")
	hash, err := s.Put(ctx, content)
	require.NoError(err)
	assert.Equal(model.ContentHash(content), hash)

	// Second put is a no-op.
	_, err = s.Put(ctx, content)
	require.NoError(err)

	got, err := s.Get(ctx, hash)
	require.NoError(err)
	assert.Equal(content, got)

	_, err = s.Get(ctx, model.ContentHash([]byte("missing")))
	assert.ErrorIs(err, model.ErrNotFound)
}
