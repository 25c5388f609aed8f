// Package gate decides when and how a branch's changes get verified:
// which workspaces to test, how often runs may be requested, and when a
// passing run becomes a recorded proof.
package gate

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"autopilot/pkg/config"
)

// ErrStagedPathsUnchanged reports that a branch's staged paths match the
// snapshot from its last passing automated run, so re-running would
// verify the same tree again.
var ErrStagedPathsUnchanged = errors.New("staged paths unchanged since last passing run")

// entryTTL bounds how long idle per-branch state survives. Entries past
// the TTL are swept lazily on the next admission check.
const entryTTL = time.Hour

// RateLimitedError is the structured rejection for a run request that
// arrived before the minimum interval elapsed. Callers are expected to
// check for it and retry later rather than treat it as a failure.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	seconds := int64(math.Ceil(e.RetryAfter.Seconds()))
	return fmt.Sprintf("test run rate limited, retry in %ds", seconds)
}

// RetryAfterMS returns the remaining wait in milliseconds.
func (e *RateLimitedError) RetryAfterMS() int64 {
	return e.RetryAfter.Milliseconds()
}

type branchState struct {
	lastRunAt   time.Time
	stagedPaths []string
	touchedAt   time.Time
}

// RunLimiter enforces the minimum interval between test-run requests
// per project+branch and remembers the last automated staged-path
// snapshot. It is constructed once per process and injected so tests
// can build isolated instances with a fake clock.
type RunLimiter struct {
	mu      sync.Mutex
	entries map[string]*branchState
	now     func() time.Time
}

// NewRunLimiter creates a limiter using the given time source. A nil
// source falls back to the system clock.
func NewRunLimiter(now func() time.Time) *RunLimiter {
	if now == nil {
		now = time.Now
	}
	return &RunLimiter{
		entries: make(map[string]*branchState),
		now:     now,
	}
}

func branchKey(projectID, branchID string) string {
	return projectID + "/" + branchID
}

// Admit checks whether a run request for the given project+branch may
// proceed now. An admitted request consumes the slot; a rejected one
// returns a RateLimitedError with the remaining wait. The check and the
// timestamp update happen in a single critical section so two
// near-simultaneous requests cannot both be admitted.
func (l *RunLimiter) Admit(projectID, branchID string, minIntervalMS int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.admitLocked(branchKey(projectID, branchID), minIntervalMS)
}

// AdmitAutomated is Admit for automated run requests: when the branch's
// staged paths match the snapshot from its last passing automated run it
// returns ErrStagedPathsUnchanged without consuming the rate slot. Both
// checks happen in one critical section so a concurrent run cannot slip
// between them.
func (l *RunLimiter) AdmitAutomated(projectID, branchID string, minIntervalMS int64, stagedPaths []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := branchKey(projectID, branchID)
	if l.snapshotMatchesLocked(key, stagedPaths) {
		return ErrStagedPathsUnchanged
	}
	return l.admitLocked(key, minIntervalMS)
}

func (l *RunLimiter) admitLocked(key string, minIntervalMS int64) error {
	interval := time.Duration(minIntervalMS) * time.Millisecond
	if minIntervalMS <= 0 {
		interval = time.Duration(config.DefaultMinRunIntervalMS) * time.Millisecond
	}

	now := l.now()
	l.sweepLocked(now)

	entry, ok := l.entries[key]
	if ok && !entry.lastRunAt.IsZero() {
		elapsed := now.Sub(entry.lastRunAt)
		if elapsed < interval {
			return &RateLimitedError{RetryAfter: interval - elapsed}
		}
	}
	if !ok {
		entry = &branchState{}
		l.entries[key] = entry
	}
	entry.lastRunAt = now
	entry.touchedAt = now
	return nil
}

// RememberStagedPaths records the staged-path snapshot that the last
// automated run observed for a branch.
func (l *RunLimiter) RememberStagedPaths(projectID, branchID string, paths []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := branchKey(projectID, branchID)
	entry, ok := l.entries[key]
	if !ok {
		entry = &branchState{}
		l.entries[key] = entry
	}
	entry.stagedPaths = append([]string(nil), paths...)
	entry.touchedAt = now
}

// StagedPathsUnchanged reports whether the given snapshot matches the
// one remembered for the branch. An absent snapshot never matches.
func (l *RunLimiter) StagedPathsUnchanged(projectID, branchID string, paths []string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.snapshotMatchesLocked(branchKey(projectID, branchID), paths)
}

func (l *RunLimiter) snapshotMatchesLocked(key string, paths []string) bool {
	entry, ok := l.entries[key]
	if !ok || entry.stagedPaths == nil {
		return false
	}
	if len(entry.stagedPaths) != len(paths) {
		return false
	}
	for i, p := range entry.stagedPaths {
		if p != paths[i] {
			return false
		}
	}
	return true
}

func (l *RunLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.touchedAt) > entryTTL {
			delete(l.entries, key)
		}
	}
}
