package waitroom

import (
	"context"
	"encoding/json"
	"time"
)

// Status describes the event that triggered a queue recompute.
type Status string

const (
	StatusNone         Status = "" // cold or periodic recompute, encoded as null
	StatusRegistered   Status = "registered"
	StatusDisconnected Status = "disconnected"
)

func (s Status) MarshalJSON() ([]byte, error) {
	if s == StatusNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *Status) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = StatusNone
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*s = Status(v)
	return nil
}

// QueueUpdate is pushed to one session whenever the queue changes.
type QueueUpdate struct {
	Position int    `json:"position"`
	Status   Status `json:"status"`
}

// QueueEntry is one rank of a queue snapshot. SessionID is empty when the
// user has no resolvable session.
type QueueEntry struct {
	UserID    string
	SessionID string
}

// Registry is the user<->session mapping plus the ordered wait queue.
// RegisterSession and the Remove* operations change the mapping, the reverse
// mapping and the queue entry as one atomic unit.
type Registry interface {
	RegisterSession(ctx context.Context, userID, sessionID string) error
	SessionForUser(ctx context.Context, userID string) (string, bool, error)
	UserForSession(ctx context.Context, sessionID string) (string, bool, error)
	RemoveUser(ctx context.Context, userID string) (sessionID string, removed bool, err error)
	RemoveSession(ctx context.Context, sessionID string) (userID string, removed bool, err error)
	ListQueue(ctx context.Context) ([]string, error)
	// Snapshot returns the queue in order with each user's session resolved
	// at the same instant.
	Snapshot(ctx context.Context) ([]QueueEntry, error)
}

// HeartbeatTracker records the last time each session was seen alive.
type HeartbeatTracker interface {
	// Touch stores now for the session, creating the record when absent. An
	// older timestamp never replaces a newer one.
	Touch(ctx context.Context, sessionID string, now time.Time) error
	LastAlive(ctx context.Context, sessionID string) (time.Time, bool, error)
	Sessions(ctx context.Context) ([]string, error)
	// Expired returns the ids whose record is older than threshold at now.
	// A missing record counts as expired.
	Expired(ctx context.Context, sessionIDs []string, threshold time.Duration, now time.Time) ([]string, error)
	Delete(ctx context.Context, sessionID string) error
}

type HeartbeatRecord struct {
	At     time.Time `json:"timestamp"`
	Status string    `json:"status"`
}

// DebugLog keeps a bounded per-user history of heartbeats for introspection.
type DebugLog interface {
	Append(ctx context.Context, userID string, rec HeartbeatRecord) error
	List(ctx context.Context, userID string) ([]HeartbeatRecord, error)
}

// Transport delivers messages to a live session. Implementations must treat
// unknown sessions as a no-op or return an error; never block indefinitely.
type Transport interface {
	Deliver(ctx context.Context, sessionID string, update QueueUpdate) error
	// Reject sends an error message to the session and then closes it.
	Reject(ctx context.Context, sessionID, message string) error
	Close(ctx context.Context, sessionID, reason string) error
}

type EventType string

const (
	EventRegistered   EventType = "registered"
	EventRejected     EventType = "rejected"
	EventDisconnected EventType = "disconnected"
	EventExpired      EventType = "expired"
)

// SessionEvent is emitted for every lifecycle transition.
type SessionEvent struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
}

type EventSink interface {
	Publish(ctx context.Context, ev SessionEvent) error
}

// Observer receives counters and timings; see service/metrics.
type Observer interface {
	QueueLength(n int)
	Registered()
	Rejected()
	Removed(reason EventType)
	Broadcast(recipients int, took time.Duration)
	Sweep(candidates, evicted int, took time.Duration)
	SweepSkipped()
}

type nopObserver struct{}

func (nopObserver) QueueLength(int) {}
func (nopObserver) Registered() {}
func (nopObserver) Rejected() {}
func (nopObserver) Removed(EventType) {}
func (nopObserver) Broadcast(int, time.Duration) {}
func (nopObserver) Sweep(int, int, time.Duration) {}
func (nopObserver) SweepSkipped() {}

type nopSink struct{}

func (nopSink) Publish(context.Context, SessionEvent) error { return nil }

type nopDebugLog struct{}

func (nopDebugLog) Append(context.Context, string, HeartbeatRecord) error { return nil }
func (nopDebugLog) List(context.Context, string) ([]HeartbeatRecord, error) {
	return nil, nil
}
