package sweep

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const checkpointFileName = "checkpoint.json"

// Checkpoint is the sole persisted sweep state: the most recently completed
// run configuration. Its presence implies that every configuration ordered
// before it has completed and every one ordered after it has not.
type Checkpoint struct {
	LastClients    int `json:"last_clients"`
	LastNodes      int `json:"last_nodes"`
	LastShards     int `json:"last_shards"`
	LastRepetition int `json:"last_repetition"`
}

// Configuration converts the checkpoint back into a run configuration for
// ordinal comparison.
func (c Checkpoint) Configuration() RunConfiguration {
	return RunConfiguration{
		ClientLoad: c.LastClients,
		NodeCount:  c.LastNodes,
		ShardCount: c.LastShards,
		Repetition: c.LastRepetition,
	}
}

// CheckpointStore persists the checkpoint to a small JSON file. Writes go
// through a temporary file and rename, so a process kill mid-write leaves
// the previous checkpoint intact; the worst case on resume is re-running a
// single repetition, never silently skipping one.
type CheckpointStore struct {
	path string
}

// NewCheckpointStore returns a store writing into the given directory.
func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{path: filepath.Join(dir, checkpointFileName)}
}

// Save durably records the configuration as the last completed one.
func (s *CheckpointStore) Save(c RunConfiguration) error {
	checkpoint := Checkpoint{
		LastClients:    c.ClientLoad,
		LastNodes:      c.NodeCount,
		LastShards:     c.ShardCount,
		LastRepetition: c.Repetition,
	}

	content, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling checkpoint failed")
	}

	tmpPath := s.path + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "creating checkpoint temp file failed")
	}

	if _, err := tmpFile.Write(content); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "writing checkpoint failed")
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return errors.Wrap(err, "syncing checkpoint failed")
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "closing checkpoint temp file failed")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrap(err, "renaming checkpoint into place failed")
	}
	return nil
}

// Load returns the persisted checkpoint, or nil when none exists. A
// corrupt file is reported as an error; the caller decides whether to start
// fresh.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	content, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading checkpoint failed")
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(content, &checkpoint); err != nil {
		return nil, errors.Wrapf(err, "checkpoint file %q is corrupt", s.path)
	}
	return &checkpoint, nil
}

// Clear removes the checkpoint. A missing file is not an error: the sweep
// may complete without ever having checkpointed (zero valid runs).
func (s *CheckpointStore) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing checkpoint failed")
	}
	return nil
}
