// Package registry holds the small in-memory state the reflection
// orchestrator needs to enforce its concurrency invariants: at most one
// reflection per session, no double-reflection after a terminal verdict,
// abort cooldowns, and exclusion of the core's own judge sessions.
//
// All state lives behind a single mutex, matching the teacher's own
// preference for one simple lock over fine-grained per-field locking (see
// logging.ErrorLogger).
package registry

import (
	"sync"
	"time"
)

// attemptKey identifies one (session, human message) pair.
type attemptKey struct {
	sessionID string
	messageID string
}

// Store is the process-wide registry. The zero value is not usable; use
// New.
type Store struct {
	mu sync.Mutex

	attempts map[attemptKey]int
	reflected map[attemptKey]bool

	aborted map[string]time.Time

	judges map[string]bool

	running map[string]bool

	lastReflected map[string]string

	injectedFeedback map[string]map[string]bool
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		attempts:  make(map[attemptKey]int),
		reflected: make(map[attemptKey]bool),
		aborted:   make(map[string]time.Time),
		judges:    make(map[string]bool),
		running:   make(map[string]bool),
		lastReflected:    make(map[string]string),
		injectedFeedback: make(map[string]map[string]bool),
	}
}

// MarkInjectedFeedback records messageID as a reflection-injected follow-up
// prompt for sessionID, so a later humanMsgId resolution (spec §4.8 step 5)
// can exclude it via Session.HumanMessages' excludeIDs. The host's
// promptAsync has no notion of "this message is from the reflection
// system," so the orchestrator discovers the injected message's id itself
// (by re-reading Messages right after posting) and records it here.
func (s *Store) MarkInjectedFeedback(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injectedFeedback[sessionID] == nil {
		s.injectedFeedback[sessionID] = make(map[string]bool)
	}
	s.injectedFeedback[sessionID][messageID] = true
}

// InjectedFeedbackIDs returns the set of message ids previously recorded via
// MarkInjectedFeedback for sessionID, suitable as Session.HumanMessages'
// excludeIDs argument.
func (s *Store) InjectedFeedbackIDs(sessionID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.injectedFeedback[sessionID]))
	for id := range s.injectedFeedback[sessionID] {
		out[id] = true
	}
	return out
}

// LastReflected returns the last human message id this session was
// reflected on, and whether one has been recorded at all (spec §4.8 step 6).
func (s *Store) LastReflected(sessionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.lastReflected[sessionID]
	return id, ok
}

// SetLastReflected records humanMsgId as the most recent message this
// session was reflected on (spec §4.8 steps 7, 9, 10, 12, 13, 15, 18). A
// fresh non-reflection user message with a different id makes step 6's
// guard pass again.
func (s *Store) SetLastReflected(sessionID, humanMsgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReflected[sessionID] = humanMsgID
}

// TryEnterRunning attempts to mark sessionID as having a reflection in
// progress. It returns false if one is already running (spec invariant I2).
func (s *Store) TryEnterRunning(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[sessionID] {
		return false
	}
	s.running[sessionID] = true
	return true
}

// ExitRunning clears the in-progress marker for sessionID. Safe to call even
// if the session was never marked running.
func (s *Store) ExitRunning(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, sessionID)
}

// IsRunning reports whether a reflection is currently in progress for
// sessionID.
func (s *Store) IsRunning(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running[sessionID]
}

// IncrementAttempt records a new reflection attempt for (sessionID,
// messageID) and returns the new count. A fresh messageID starts at 1
// (spec: "a fresh human message resets the count for that session").
func (s *Store) IncrementAttempt(sessionID, messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attemptKey{sessionID, messageID}
	s.attempts[key]++
	return s.attempts[key]
}

// AttemptCount returns the current attempt count for (sessionID,
// messageID) without incrementing it.
func (s *Store) AttemptCount(sessionID, messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[attemptKey{sessionID, messageID}]
}

// ClearAttempts removes the attempt counter for (sessionID, messageID),
// e.g. after a complete/human-action/max-attempts outcome.
func (s *Store) ClearAttempts(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, attemptKey{sessionID, messageID})
}

// MarkReflected records that (sessionID, messageID) has received a terminal
// verdict (complete, or requires-human-action-only) and must never be
// reflected on again (spec invariant I3).
func (s *Store) MarkReflected(sessionID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflected[attemptKey{sessionID, messageID}] = true
}

// AlreadyReflected reports whether (sessionID, messageID) was previously
// marked terminal via MarkReflected.
func (s *Store) AlreadyReflected(sessionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reflected[attemptKey{sessionID, messageID}]
}

// RecordAbort records that sessionID was aborted at observedAt.
func (s *Store) RecordAbort(sessionID string, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted[sessionID] = observedAt
}

// AbortedSince reports whether sessionID was aborted at or after since, and
// the recorded abort time. This implements invariant I5's "abort occurred
// after the reflection's start time" check.
func (s *Store) AbortedSince(sessionID string, since time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.aborted[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return t, !t.Before(since)
}

// InCooldown reports whether sessionID's most recent abort is still within
// cooldown of now.
func (s *Store) InCooldown(sessionID string, now time.Time, cooldown time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.aborted[sessionID]
	if !ok {
		return false
	}
	return now.Sub(t) < cooldown
}

// PurgeExpiredAborts removes abort records older than cooldown relative to
// now, matching the Lifecycles section's "purged after cooldown" rule.
func (s *Store) PurgeExpiredAborts(now time.Time, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.aborted {
		if now.Sub(t) >= cooldown {
			delete(s.aborted, id)
		}
	}
}

// RegisterJudge records sessionID as an auxiliary judge session the core
// created, so siblings of the orchestrator can skip reflecting on it.
func (s *Store) RegisterJudge(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judges[sessionID] = true
}

// UnregisterJudge removes sessionID from the judge set (spec invariant I4:
// every auxiliary session is removed from JudgeRegistry on every exit
// path).
func (s *Store) UnregisterJudge(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.judges, sessionID)
}

// IsJudge reports whether sessionID is a registered judge session.
func (s *Store) IsJudge(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.judges[sessionID]
}
