package repository

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSnapshot(t *testing.T) {
	t.Parallel()

	repo := Repository{Owner: "some-org", Name: "some-repo"}
	prs := []PullRequest{
		{
			Number:    42,
			URL:       "https://github.com/some-org/some-repo/pull/42",
			CreatedAt: time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC),
			Labels:    []string{"automerge"},
			Checks: []CheckResult{
				{Name: "build", State: "COMPLETED", Conclusion: "SUCCESS"},
			},
		},
	}

	path, err := repo.WriteSnapshot(t.TempDir(), prs)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(data, &snapshot))
	assert.Equal(t, "some-org/some-repo", snapshot.Repository)
	assert.False(t, snapshot.FetchedAt.IsZero())
	assert.Equal(t, prs, snapshot.PullRequests)
}

func TestWriteSnapshotCreatesDirectory(t *testing.T) {
	t.Parallel()

	repo := Repository{Owner: "some-org", Name: "some-repo"}
	dir := t.TempDir() + "/nested/snapshots"

	path, err := repo.WriteSnapshot(dir, nil)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestRemoveSnapshot(t *testing.T) {
	t.Parallel()

	repo := Repository{Owner: "some-org", Name: "some-repo"}
	path, err := repo.WriteSnapshot(t.TempDir(), nil)
	require.NoError(t, err)

	RemoveSnapshot(path)
	assert.NoFileExists(t, path)
}
