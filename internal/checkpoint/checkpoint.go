// Package checkpoint persists the scheduler's single resume-point
// document, letting a restarted harness pick up the in-flight feature and
// attempt count exactly where it left off.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/adaharness/ada/internal/storage"
	"github.com/adaharness/ada/pkg/types"
)

const docKey = "state/session"

// Store owns the singleton checkpoint document for one project directory.
type Store struct {
	fs *storage.Storage
}

// NewStore creates a checkpoint store rooted at dir (typically .ada under
// the project directory).
func NewStore(dir string) *Store {
	return &Store{fs: storage.New(dir)}
}

// Load reads the checkpoint document, returning a zero-value Checkpoint
// (no feature in flight) if none has been saved yet.
func (s *Store) Load(ctx context.Context) (*types.Checkpoint, error) {
	var c types.Checkpoint
	if err := s.fs.Get(ctx, []string{docKey}, &c); err != nil {
		if err == storage.ErrNotFound {
			return &types.Checkpoint{}, nil
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &c, nil
}

// AttemptFor returns the recorded attempt number for featureID, or 0 if the
// checkpoint belongs to a different feature (a fresh feature always starts
// at attempt 0).
func (s *Store) AttemptFor(ctx context.Context, featureID string) (int, error) {
	c, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	if c.FeatureID != featureID {
		return 0, nil
	}
	return c.Attempt, nil
}

// Save atomically records the in-flight feature, attempt number, last known
// good commit, and handoff notes.
func (s *Store) Save(ctx context.Context, featureID string, attempt int, lastGoodCommit, handoffNotes string, now time.Time) error {
	c := &types.Checkpoint{
		FeatureID:      featureID,
		Attempt:        attempt,
		LastGoodCommit: lastGoodCommit,
		HandoffNotes:   handoffNotes,
		UpdatedAt:      now.Unix(),
	}
	if err := s.fs.Put(ctx, []string{docKey}, c); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint document, used once a feature's attempt
// chain concludes (success, exhaustion, or explicit reset).
func (s *Store) Clear(ctx context.Context) error {
	if err := s.fs.Delete(ctx, []string{docKey}); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}
