package memory

import (
	"context"
	"sync"

	"waitroom/module/waitroom"
	"waitroom/tools/errs"
)

// Registry is the single-instance registry. One mutex guards the mapping,
// the reverse mapping and the queue together, which is what makes
// register/remove atomic here.
type Registry struct {
	mu            sync.RWMutex
	userToSession map[string]string
	sessionToUser map[string]string
	queue         []string
	queued        map[string]struct{}
}

var _ waitroom.Registry = (*Registry)(nil)

func NewRegistry() *Registry {
	return &Registry{
		userToSession: make(map[string]string),
		sessionToUser: make(map[string]string),
		queued:        make(map[string]struct{}),
	}
}

func (r *Registry) RegisterSession(_ context.Context, userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return errs.ErrArgs.WrapMsg("empty user or session id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.userToSession[userID]; ok {
		return errs.ErrDuplicateRegistration.WrapMsg("user already has a live session", "user", userID, "session", existing)
	}
	if owner, ok := r.sessionToUser[sessionID]; ok && owner != userID {
		return errs.ErrDuplicateRegistration.WrapMsg("session already bound", "session", sessionID, "user", owner)
	}
	r.userToSession[userID] = sessionID
	r.sessionToUser[sessionID] = userID
	if _, ok := r.queued[userID]; !ok {
		r.queued[userID] = struct{}{}
		r.queue = append(r.queue, userID)
	}
	return nil
}

func (r *Registry) SessionForUser(_ context.Context, userID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.userToSession[userID]
	return sid, ok, nil
}

func (r *Registry) UserForSession(_ context.Context, sessionID string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	uid, ok := r.sessionToUser[sessionID]
	return uid, ok, nil
}

func (r *Registry) RemoveUser(_ context.Context, userID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := r.dequeueLocked(userID)
	sid, ok := r.userToSession[userID]
	if !ok {
		return "", removed, nil
	}
	delete(r.userToSession, userID)
	if r.sessionToUser[sid] == userID {
		delete(r.sessionToUser, sid)
	}
	return sid, true, nil
}

func (r *Registry) RemoveSession(_ context.Context, sessionID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	uid, ok := r.sessionToUser[sessionID]
	if !ok {
		return "", false, nil
	}
	delete(r.sessionToUser, sessionID)
	// only tear down the user side when it still points at this session
	if r.userToSession[uid] == sessionID {
		delete(r.userToSession, uid)
		r.dequeueLocked(uid)
	}
	return uid, true, nil
}

func (r *Registry) ListQueue(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.queue))
	copy(out, r.queue)
	return out, nil
}

func (r *Registry) Snapshot(_ context.Context) ([]waitroom.QueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]waitroom.QueueEntry, 0, len(r.queue))
	for _, uid := range r.queue {
		out = append(out, waitroom.QueueEntry{UserID: uid, SessionID: r.userToSession[uid]})
	}
	return out, nil
}

func (r *Registry) dequeueLocked(userID string) bool {
	if _, ok := r.queued[userID]; !ok {
		return false
	}
	delete(r.queued, userID)
	for i, uid := range r.queue {
		if uid == userID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
	return true
}
