package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ItemSeed is the subset of a transfer item the checkpoint records.
type ItemSeed struct {
	Path     string
	Filename string
	Size     int64
}

// Store reads and writes the checkpoint file. It holds no state between
// calls; the orchestrator owns the OperationState for the life of a batch.
type Store struct {
	path string
	log  *zap.Logger
}

func NewStore(path string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{path: path, log: log}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Create builds a fresh state with every item pending.
func (s *Store) Create(kind Kind, destination string, items []ItemSeed) *OperationState {
	now := time.Now().UTC().Truncate(time.Second)
	state := &OperationState{
		SessionID:   sessionID(kind, destination, now),
		Kind:        kind,
		Destination: destination,
		StartedAt:   now,
		UpdatedAt:   now,
		Files:       make([]FileRecord, 0, len(items)),
	}
	for _, it := range items {
		state.Files = append(state.Files, FileRecord{
			Path:     it.Path,
			Filename: it.Filename,
			Size:     it.Size,
			Status:   StatusPending,
		})
	}
	return state
}

// Load reads the checkpoint from disk. A missing, unreadable, or corrupt file
// loads as absent: a damaged checkpoint must never block the operator.
func (s *Store) Load() (*OperationState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		s.log.Warn("Checkpoint unreadable, treating as absent",
			zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}

	var state OperationState
	if err := json.Unmarshal(data, &state); err != nil {
		s.log.Warn("Checkpoint corrupt, treating as absent",
			zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	if err := state.validate(); err != nil {
		s.log.Warn("Checkpoint invalid, treating as absent",
			zap.String("path", s.path), zap.Error(err))
		return nil, nil
	}
	return &state, nil
}

// Save overwrites the checkpoint with the current state, refreshing
// UpdatedAt. The write is atomic (temp file + rename) so an interruption
// never leaves a half-written checkpoint behind.
func (s *Store) Save(state *OperationState) error {
	state.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint file. Idempotent.
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
