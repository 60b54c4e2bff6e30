package mutate

import "sync"

// MutationState tracks one in-flight optimistic mutation.
type MutationState int

const (
	MutationPending MutationState = iota
	MutationConfirmed
	MutationRolledBack
)

func (s MutationState) String() string {
	switch s {
	case MutationPending:
		return "pending"
	case MutationConfirmed:
		return "confirmed"
	case MutationRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Ledger reconciles optimistic local state with the authoritative change
// feed. A caller applies its local patch, registers the entity as pending,
// and then either the next change-feed event for that id confirms it (the
// authoritative value replaces the patch) or a failed write rolls it back.
// Each entity holds at most one pending mutation; a second Begin for the
// same id rolls back the first.
type Ledger struct {
	mu       sync.Mutex
	inflight map[string]*pendingMutation
}

type pendingMutation struct {
	state    MutationState
	rollback func()
}

func NewLedger() *Ledger {
	return &Ledger{inflight: make(map[string]*pendingMutation)}
}

// Begin records a pending mutation for entityID. apply runs the optimistic
// local patch immediately; rollback is kept to undo it if the write fails.
func (l *Ledger) Begin(entityID string, apply, rollback func()) {
	l.mu.Lock()
	if prev, ok := l.inflight[entityID]; ok && prev.state == MutationPending {
		prev.state = MutationRolledBack
		if prev.rollback != nil {
			prev.rollback()
		}
	}
	l.inflight[entityID] = &pendingMutation{state: MutationPending, rollback: rollback}
	l.mu.Unlock()

	if apply != nil {
		apply()
	}
}

// Confirm resolves the pending mutation for entityID, if any. Called when
// the change feed delivers the authoritative value for that id; the
// authoritative value supersedes the optimistic patch, so there is nothing
// to undo.
func (l *Ledger) Confirm(entityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pm, ok := l.inflight[entityID]; ok && pm.state == MutationPending {
		pm.state = MutationConfirmed
		delete(l.inflight, entityID)
	}
}

// Rollback undoes the pending mutation for entityID after a failed write,
// restoring the pre-patch state exactly once.
func (l *Ledger) Rollback(entityID string) {
	l.mu.Lock()
	pm, ok := l.inflight[entityID]
	if ok && pm.state == MutationPending {
		pm.state = MutationRolledBack
		delete(l.inflight, entityID)
	} else {
		pm = nil
	}
	l.mu.Unlock()

	if pm != nil && pm.rollback != nil {
		pm.rollback()
	}
}

// Pending reports whether entityID has an unresolved mutation.
func (l *Ledger) Pending(entityID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	pm, ok := l.inflight[entityID]
	return ok && pm.state == MutationPending
}
