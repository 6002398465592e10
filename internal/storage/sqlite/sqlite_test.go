package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/slok/taskforge/internal/log"
	"github.com/slok/taskforge/internal/model"
	"github.com/slok/taskforge/internal/storage"
	"github.com/slok/taskforge/internal/storage/blob"
	"github.com/slok/taskforge/internal/storage/sqlite"
	"github.com/slok/taskforge/internal/storage/storagetest"
)

func t0() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

func newRepo(t *testing.T, path string, blobs blob.Store) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: path,
		Blobs:  blobs,
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository(t *testing.T) {
	storagetest.RunRepositoryTests(t, func(t *testing.T) storage.Repository {
		return newRepo(t, filepath.Join(t.TempDir(), "test.db"), nil)
	})
}

func TestRepositoryWithExternalBlobStore(t *testing.T) {
	storagetest.RunRepositoryTests(t, func(t *testing.T) storage.Repository {
		return newRepo(t, filepath.Join(t.TempDir(), "test.db"), blob.NewMemoryStore())
	})
}

func TestRepositoryShouldSurviveReopening(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	task := storagetest.NewTask("t1", t0())
	a1 := storagetest.PendingAttempt("t1", 1)

	repo := newRepo(t, path, nil)
	require.NoError(repo.CreateTask(ctx, task))
	require.NoError(repo.AppendAttempt(ctx, a1, nil))
	require.NoError(repo.Close())

	repo = newRepo(t, path, nil)
	got, err := repo.GetTask(ctx, "t1")
	require.NoError(err)
	task.Attempts = []model.ExecutionAttempt{a1}
	assert.Equal(task, *got)
}

func TestRepositoryAppendOnlyTriggers(t *testing.T) {
	tests := map[string]struct {
		query  string
		expErr bool
	}{
		"Updating a spec version should fail.": {
			query:  `UPDATE task_specs SET body = '{}' WHERE task_id = 't1'`,
			expErr: true,
		},

		"Deleting a spec version should fail.": {
			query:  `DELETE FROM task_specs WHERE task_id = 't1'`,
			expErr: true,
		},

		"Deleting an input should fail.": {
			query:  `DELETE FROM task_inputs WHERE task_id = 't1'`,
			expErr: true,
		},

		"Deleting an attempt should fail.": {
			query:  `DELETE FROM attempts WHERE id = 't1-a2'`,
			expErr: true,
		},

		"Updating a finalized attempt should fail.": {
			query:  `UPDATE attempts SET status = 'failed' WHERE id = 't1-a1'`,
			expErr: true,
		},

		"Renumbering a pending attempt should fail.": {
			query:  `UPDATE attempts SET number = 7 WHERE id = 't1-a2'`,
			expErr: true,
		},

		"Updating a transition should fail.": {
			query:  `UPDATE task_transitions SET reason = 'rewritten' WHERE task_id = 't1'`,
			expErr: true,
		},

		"Deleting a transition should fail.": {
			query:  `DELETE FROM task_transitions WHERE task_id = 't1'`,
			expErr: true,
		},

		"Updating a pending attempt should be allowed.": {
			query: `UPDATE attempts SET status = 'verified' WHERE id = 't1-a2'`,
		},

		"Updating the task state should be allowed.": {
			query: `UPDATE tasks SET state = 'abandoned' WHERE id = 't1'`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "test.db")

			repo := newRepo(t, path, nil)
			require.NoError(repo.CreateTask(ctx, storagetest.NewTask("t1", t0())))
			require.NoError(repo.Transition(ctx, "t1", storage.Transition{From: model.TaskStateDrafting, To: model.TaskStateAwaitingExecution, Reason: "compiled", At: t0()}))
			require.NoError(repo.AppendAttempt(ctx, storagetest.Finalized(storagetest.PendingAttempt("t1", 1), model.OverallStatusPartial), nil))
			require.NoError(repo.AppendAttempt(ctx, storagetest.PendingAttempt("t1", 2), nil))
			require.NoError(repo.Close())

			db, err := sql.Open("sqlite", path)
			require.NoError(err)
			defer db.Close()

			_, err = db.ExecContext(ctx, test.query)
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBlobStore(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(err)
	defer db.Close()
	_, err = db.ExecContext(ctx, `CREATE TABLE blobs (sha256 TEXT PRIMARY KEY, content BLOB NOT NULL)`)
	require.NoError(err)

	s, err := sqlite.NewBlobStore(sqlite.BlobStoreConfig{DB: db})
	require.NoError(err)

	hash, err := s.Put(ctx, []byte("handle\n@bob\n"))
	require.NoError(err)
	hash2, err := s.Put(ctx, []byte("handle\n@bob\n"))
	require.NoError(err)
	assert.Equal(hash, hash2)

	got, err := s.Get(ctx, hash)
	require.NoError(err)
	assert.Equal([]byte("handle\n@bob\n"), got)

	empty, err := s.Put(ctx, nil)
	require.NoError(err)
	got, err = s.Get(ctx, empty)
	require.NoError(err)
	assert.Equal([]byte{}, got)

	_, err = s.Get(ctx, model.ContentHash([]byte("missing")))
	assert.ErrorIs(err, model.ErrNotFound)
}
