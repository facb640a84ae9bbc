package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// Snapshot is the transient on-disk record of a fetch. It only exists for
// the duration of a run, unless the scan keeps its files.
type Snapshot struct {
	Repository   string        `json:"repository"`
	FetchedAt    time.Time     `json:"fetchedAt"`
	PullRequests []PullRequest `json:"pullRequests"`
}

// WriteSnapshot persists the fetched pull requests as an indented JSON file
// under dir, and returns the file path.
func (r Repository) WriteSnapshot(dir string, prs []PullRequest) (string, error) {
	snapshot := Snapshot{
		Repository:   r.FullName(),
		FetchedAt:    time.Now().UTC(),
		PullRequests: prs,
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot for repository %s: %w", r.FullName(), err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("scan-%s-%s-%s.json", r.Owner, r.Name, xid.New().String()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot file %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"repository": r.FullName(),
		"path":       path,
	}).Debug("Snapshot written")
	return path, nil
}

// RemoveSnapshot deletes a snapshot file at the end of a run.
func RemoveSnapshot(path string) {
	logrus.WithField("path", path).Trace("Deleting snapshot file")
	if err := os.Remove(path); err != nil {
		logrus.WithField("path", path).WithError(err).Warning("Failed to delete snapshot file")
	}
}
