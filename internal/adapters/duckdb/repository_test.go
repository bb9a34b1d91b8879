package duckdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvhal/replagent/internal/core/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestArchiveRoundtrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := domain.NewJob()
	job.Start()
	job.Apply("ingesting", 20)
	job.Complete("3 invoices violate policy")

	require.NoError(t, repo.SaveJob(ctx, job.Snapshot()))

	fetched, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, domain.JobStatusCompleted, fetched.Status)
	assert.Equal(t, 100, fetched.Progress)
	require.NotNil(t, fetched.Result)
	assert.Equal(t, "3 invoices violate policy", *fetched.Result)
	assert.Nil(t, fetched.Error)
	assert.Equal(t, job.Logs, fetched.Logs)
}

func TestArchiveUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	job := domain.NewJob()
	job.Start()
	require.NoError(t, repo.SaveJob(ctx, job.Snapshot()))

	job.Fail("model unreachable")
	require.NoError(t, repo.SaveJob(ctx, job.Snapshot()))

	fetched, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, fetched.Status)
	require.NotNil(t, fetched.Error)
	assert.Equal(t, "model unreachable", *fetched.Error)
}

func TestArchiveGetMissing(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetJob(context.Background(), domain.NewJobID())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestArchiveList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := domain.NewJob()
		job.Start()
		job.Complete("done")
		require.NoError(t, repo.SaveJob(ctx, job.Snapshot()))
	}

	jobs, err := repo.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}
