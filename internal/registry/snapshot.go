package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// snapshotFile is the on-disk form of the registry.
type snapshotFile struct {
	SavedAt time.Time `json:"saved_at"`
	Jobs    []Job     `json:"jobs"`
}

// Interrupted is the error kind recorded for jobs that were still running
// when a snapshot was taken.
const Interrupted = "INTERRUPTED"

// SaveSnapshot writes every job to path atomically. Jobs still in progress
// are written as failed, since they cannot resume after a restart.
func (s *Store) SaveSnapshot(path string) error {
	jobs := s.List()
	for i := range jobs {
		if jobs[i].Status == StatusInProgress {
			jobs[i].Status = StatusError
			jobs[i].ErrorKind = Interrupted
			jobs[i].ErrorMessage = "interrupted by shutdown"
			jobs[i].FinishedAt = time.Now()
		}
	}

	data, err := json.MarshalIndent(snapshotFile{SavedAt: time.Now(), Jobs: jobs}, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadSnapshot restores jobs from path. A missing file is not an error.
// It returns the number of jobs restored.
func (s *Store) LoadSnapshot(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, fmt.Errorf("corrupted job snapshot %s: %w", path, err)
	}

	n := 0
	for _, job := range snap.Jobs {
		if job.ID == "" || !job.Status.Terminal() {
			continue
		}
		s.restore(job)
		n++
	}
	return n, nil
}
