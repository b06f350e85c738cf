// Package backlog manages the feature-list.json document: the ordered list
// of work the scheduler draws from, with dependency validation and the
// priority/status ordering that decides what runs next.
package backlog

import (
	"context"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/adaharness/ada/internal/storage"
	"github.com/adaharness/ada/pkg/types"
)

const docKey = "feature-list"

// Store owns the backlog document for one project directory.
type Store struct {
	fs *storage.Storage
}

// NewStore creates a backlog store rooted at dir (typically .ada under the
// project directory).
func NewStore(dir string) *Store {
	return &Store{fs: storage.New(dir)}
}

// Load reads the backlog document, returning an empty Backlog (version 1,
// no features) if none has been saved yet.
func (s *Store) Load(ctx context.Context) (*types.Backlog, error) {
	var b types.Backlog
	if err := s.fs.Get(ctx, []string{docKey}, &b); err != nil {
		if err == storage.ErrNotFound {
			return &types.Backlog{Version: 1}, nil
		}
		return nil, fmt.Errorf("load backlog: %w", err)
	}
	return &b, nil
}

// Save validates and atomically persists the backlog document.
func (s *Store) Save(ctx context.Context, b *types.Backlog) error {
	if err := Validate(b); err != nil {
		return err
	}
	if err := s.fs.Put(ctx, []string{docKey}, b); err != nil {
		return fmt.Errorf("save backlog: %w", err)
	}
	return nil
}

// AddFeature appends a new feature to the backlog and persists it. The
// feature's CreatedAt/UpdatedAt are stamped with now if unset.
func (s *Store) AddFeature(ctx context.Context, f types.Feature, now time.Time) error {
	b, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for _, existing := range b.Features {
		if existing.ID == f.ID {
			return fmt.Errorf("feature %q already exists", f.ID)
		}
	}
	if f.Status == "" {
		f.Status = types.StatusPending
	}
	ts := now.Unix()
	if f.CreatedAt == 0 {
		f.CreatedAt = ts
	}
	f.UpdatedAt = ts
	b.Features = append(b.Features, f)
	return s.Save(ctx, b)
}

// UpdateFeature applies mutate to the feature with the given id and
// persists the result. UpdatedAt is refreshed automatically.
func (s *Store) UpdateFeature(ctx context.Context, id string, now time.Time, mutate func(*types.Feature)) error {
	b, err := s.Load(ctx)
	if err != nil {
		return err
	}
	for i := range b.Features {
		if b.Features[i].ID == id {
			mutate(&b.Features[i])
			b.Features[i].UpdatedAt = now.Unix()
			return s.Save(ctx, b)
		}
	}
	return fmt.Errorf("feature %q not found", id)
}

// Reset moves a blocked or completed feature back to pending and clears its
// sessions-spent floor, for the out-of-band "unblock this feature" command.
func (s *Store) Reset(ctx context.Context, id string, now time.Time) error {
	return s.UpdateFeature(ctx, id, now, func(f *types.Feature) {
		f.Status = types.StatusPending
		f.BlockedReason = ""
		f.SessionsSpent = 0
		f.ImplementationNotes = nil
	})
}

// SelectNext picks the next feature the scheduler should run, in priority
// order: features whose dependencies are unmet are skipped, in_progress
// features are preferred over pending ones, ties break by priority
// descending, and further ties preserve backlog insertion order.
func SelectNext(b *types.Backlog) *types.Feature {
	completed := make(map[string]bool, len(b.Features))
	for _, f := range b.Features {
		if f.Status == types.StatusCompleted {
			completed[f.ID] = true
		}
	}

	var best *types.Feature
	bestRank := -1
	for i := range b.Features {
		f := &b.Features[i]
		if f.Status != types.StatusPending && f.Status != types.StatusInProgress {
			continue
		}
		if !dependenciesMet(f, completed) {
			continue
		}
		rank := candidateRank(f)
		if best == nil || rank > bestRank {
			best = f
			bestRank = rank
		}
	}
	return best
}

// candidateRank packs (in_progress-first, priority) into a single integer
// so a plain greater-than comparison implements the full ordering while a
// single linear scan preserves insertion-order stability for ties.
func candidateRank(f *types.Feature) int {
	statusBit := 0
	if f.Status == types.StatusInProgress {
		statusBit = 1
	}
	return statusBit*1_000_000 + f.Priority
}

func dependenciesMet(f *types.Feature, completed map[string]bool) bool {
	for _, dep := range f.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// RunnableBlockedIDs returns the ids of pending/in_progress features left
// in the backlog after SelectNext finds none of them selectable. Those
// statuses mean the feature still expects to run, so if it can't be
// selected its dependencies are unmet and, with nothing else left able to
// complete them, never will be.
func RunnableBlockedIDs(b *types.Backlog) []string {
	var ids []string
	for _, f := range b.Features {
		if f.Status == types.StatusPending || f.Status == types.StatusInProgress {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// Validate checks structural invariants on a backlog document: unique ids,
// dependency ids that resolve within the backlog, and no dependency cycles.
func Validate(b *types.Backlog) error {
	ids := make(map[string]bool, len(b.Features))
	for _, f := range b.Features {
		if f.ID == "" {
			return fmt.Errorf("feature with empty id")
		}
		if ids[f.ID] {
			return fmt.Errorf("duplicate feature id %q", f.ID)
		}
		ids[f.ID] = true
	}
	for _, f := range b.Features {
		for _, dep := range f.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("feature %q depends on unknown feature %q", f.ID, dep)
			}
		}
	}
	return detectCycle(b)
}

func detectCycle(b *types.Backlog) error {
	deps := make(map[string][]string, len(b.Features))
	for _, f := range b.Features {
		deps[f.ID] = f.DependsOn
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(deps))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle detected: %v -> %s", path, id)
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for id := range deps {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}

// MatchesApproval reports whether featureID is covered by the backlog's
// approval allow-list, using doublestar glob semantics against each
// configured pattern.
func MatchesApproval(policy types.ApprovalPolicy, featureID string) bool {
	if policy.RequireAll {
		return true
	}
	for _, pattern := range policy.AllowPatterns {
		if ok, err := doublestar.Match(pattern, featureID); err == nil && ok {
			return true
		}
	}
	return false
}
