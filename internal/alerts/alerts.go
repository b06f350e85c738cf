// Package alerts maintains the harness's durable, dedupable alert feed: a
// synchronous subscriber on the event bus that maps state-change events to
// alert templates, persists them, and exposes the dashboard's
// list/mark-read/dismiss operations.
package alerts

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/adaharness/ada/internal/event"
	"github.com/adaharness/ada/internal/storage"
	"github.com/adaharness/ada/pkg/types"
)

const docKey = "alerts"

// DefaultDedupWindow is how long a (type, feature, fingerprint) tuple
// suppresses a repeat alert, per spec §3.
const DefaultDedupWindow = 60 * time.Second

// Clock abstracts time.Now so dedup windows can be tested without sleeping.
type Clock func() time.Time

// Store owns the alert document for one project directory and the
// subscription that feeds it from the event bus.
type Store struct {
	fs          *storage.Storage
	dedupWindow time.Duration
	clock       Clock

	mu      sync.Mutex
	recent  map[string]time.Time // fingerprint -> last-fired time
	unsub   func()
}

// NewStore creates an alert store rooted at dir (typically .ada under the
// project directory). It does not subscribe to the event bus until
// Subscribe is called.
func NewStore(dir string) *Store {
	return &Store{
		fs:          storage.New(dir),
		dedupWindow: DefaultDedupWindow,
		clock:       time.Now,
		recent:      make(map[string]time.Time),
	}
}

// SetDedupWindow overrides the default dedup window, used by tests.
func (s *Store) SetDedupWindow(d time.Duration) { s.dedupWindow = d }

// SetClock overrides the store's notion of "now", used by tests.
func (s *Store) SetClock(c Clock) { s.clock = c }

// Subscribe registers the store as an event-bus observer of feature and
// session events, and returns an unsubscribe func. An event published with
// PublishSync (as the scheduler does for both kinds) is recorded before the
// publishing call returns; one published with Publish is recorded from the
// subscriber's queue afterwards.
func (s *Store) Subscribe() func() {
	unsub := event.Subscribe(event.FeatureUpdated, func(e event.Event) {
		s.onFeatureUpdated(e)
	})
	unsubSession := event.Subscribe(event.SessionEnded, func(e event.Event) {
		s.onSessionEnded(e)
	})
	s.unsub = func() {
		unsub()
		unsubSession()
	}
	return s.unsub
}

func (s *Store) onFeatureUpdated(e event.Event) {
	data, ok := e.Data.(event.FeatureUpdatedData)
	if !ok || data.Feature == nil {
		return
	}
	switch data.Feature.Status {
	case types.StatusBlocked:
		s.raise(alertTemplate{
			alertType: "feature.blocked",
			severity:  types.SeverityError,
			title:     "Feature blocked",
			message:   fmt.Sprintf("%s blocked: %s", data.Feature.Title, data.Feature.BlockedReason),
			featureID: data.Feature.ID,
		})
	case types.StatusCompleted:
		s.raise(alertTemplate{
			alertType: "feature.completed",
			severity:  types.SeveritySuccess,
			title:     "Feature completed",
			message:   fmt.Sprintf("%s completed after %d session(s)", data.Feature.Title, data.Feature.SessionsSpent),
			featureID: data.Feature.ID,
		})
	}
}

func (s *Store) onSessionEnded(e event.Event) {
	data, ok := e.Data.(event.SessionEndedData)
	if !ok || data.Session == nil {
		return
	}
	switch data.Session.Outcome {
	case types.OutcomeAgentCrash, types.OutcomeTimeout, types.OutcomeStalled:
		s.raise(alertTemplate{
			alertType: "session.failed",
			severity:  types.SeverityError,
			title:     "Session failed",
			message:   fmt.Sprintf("session %s ended %s: %s", data.Session.ID, data.Session.Outcome, data.Session.Error),
			featureID: data.Session.FeatureID,
			sessionID: data.Session.ID,
		})
	case types.OutcomeHandoff:
		s.raise(alertTemplate{
			alertType: "session.handoff",
			severity:  types.SeverityWarning,
			title:     "Session handed off",
			message:   fmt.Sprintf("session %s handed off before completion", data.Session.ID),
			featureID: data.Session.FeatureID,
			sessionID: data.Session.ID,
		})
	}
}

type alertTemplate struct {
	alertType string
	severity  types.AlertSeverity
	title     string
	message   string
	featureID string
	sessionID string
}

// raise dedups by (type, feature, fingerprint-of-message) within the
// store's window, then persists and publishes alert.created.
func (s *Store) raise(t alertTemplate) {
	fingerprint := fingerprint(t.alertType, t.featureID, t.message)

	s.mu.Lock()
	now := s.clock()
	if last, ok := s.recent[fingerprint]; ok && now.Sub(last) < s.dedupWindow {
		s.mu.Unlock()
		return
	}
	s.recent[fingerprint] = now
	s.mu.Unlock()

	a := types.Alert{
		ID:          ulid.Make().String(),
		Type:        t.alertType,
		Severity:    t.severity,
		Title:       t.title,
		FeatureID:   t.featureID,
		SessionID:   t.sessionID,
		Message:     t.message,
		CreatedAt:   now.Unix(),
		Fingerprint: fingerprint,
	}

	ctx := context.Background()
	if _, err := s.Add(ctx, a); err != nil {
		return
	}
	event.Publish(event.Event{Type: event.AlertCreated, Data: event.AlertCreatedData{Alert: &a}})
}

func fingerprint(alertType, featureID, message string) string {
	h := sha1.New()
	h.Write([]byte(alertType))
	h.Write([]byte{0})
	h.Write([]byte(featureID))
	h.Write([]byte{0})
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// Add persists a pre-built alert directly (used by raise, and available to
// callers that construct their own alert, e.g. a preflight failure).
func (s *Store) Add(ctx context.Context, a types.Alert) (types.Alert, error) {
	all, err := s.load(ctx)
	if err != nil {
		return a, err
	}
	all = append(all, a)
	if err := s.save(ctx, all); err != nil {
		return a, err
	}
	return a, nil
}

// List returns alerts newest-first, optionally including dismissed ones.
func (s *Store) List(ctx context.Context, includeDismissed bool) ([]types.Alert, error) {
	all, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Alert, 0, len(all))
	for _, a := range all {
		if a.Dismissed && !includeDismissed {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

// UnreadCount returns the number of non-dismissed, unread alerts.
func (s *Store) UnreadCount(ctx context.Context) (int, error) {
	all, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if !a.Read && !a.Dismissed {
			n++
		}
	}
	return n, nil
}

// MarkRead marks a single alert read by id.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	return s.mutate(ctx, func(all []types.Alert) bool {
		for i := range all {
			if all[i].ID == id {
				all[i].Read = true
				return true
			}
		}
		return false
	})
}

// MarkAllRead marks every alert read, dismissed alerts included.
func (s *Store) MarkAllRead(ctx context.Context) error {
	return s.mutate(ctx, func(all []types.Alert) bool {
		changed := false
		for i := range all {
			if !all[i].Read {
				all[i].Read = true
				changed = true
			}
		}
		return changed
	})
}

// Dismiss marks a single alert dismissed by id.
func (s *Store) Dismiss(ctx context.Context, id string) error {
	return s.mutate(ctx, func(all []types.Alert) bool {
		for i := range all {
			if all[i].ID == id {
				all[i].Dismissed = true
				return true
			}
		}
		return false
	})
}

func (s *Store) mutate(ctx context.Context, fn func([]types.Alert) bool) error {
	all, err := s.load(ctx)
	if err != nil {
		return err
	}
	if !fn(all) {
		return nil
	}
	return s.save(ctx, all)
}

func (s *Store) load(ctx context.Context) ([]types.Alert, error) {
	var all []types.Alert
	if err := s.fs.Get(ctx, []string{docKey}, &all); err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("alerts: %w", err)
	}
	return all, nil
}

func (s *Store) save(ctx context.Context, all []types.Alert) error {
	if err := s.fs.Put(ctx, []string{docKey}, all); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	return nil
}
