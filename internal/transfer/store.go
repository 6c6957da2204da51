package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/relaycall/relaycall/internal/errors"
	"github.com/relaycall/relaycall/internal/summarizer"
)

// Store is the in-memory registry of call sessions and transfer instances.
// It owns the two shared invariants: at most one non-terminal transfer per
// session, and serialized mutation of any single instance.
//
// Lock ordering: the store mutex may be held while taking an entry mutex,
// never the reverse. The entry mutex is held only for the duration of one
// transition, never across an external call.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*CallSession
	transfers map[string]*entry
	active    map[string]string // sessionID -> most recent transferID

	retention time.Duration
	logger    *zap.Logger
}

type entry struct {
	mu   sync.Mutex
	inst Instance
}

// NewStore creates a store. Terminal instances older than retention are
// dropped by Sweep.
func NewStore(retention time.Duration, logger *zap.Logger) *Store {
	return &Store{
		sessions:  make(map[string]*CallSession),
		transfers: make(map[string]*entry),
		active:    make(map[string]string),
		retention: retention,
		logger:    logger,
	}
}

// PutSession registers or updates a call session
func (s *Store) PutSession(sess CallSession) *CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if sess.CallerIdentity == "" {
		sess.CallerIdentity = "caller-" + sess.SessionID
	}
	if existing, ok := s.sessions[sess.SessionID]; ok {
		sess.CreatedAt = existing.CreatedAt
	} else {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	s.sessions[sess.SessionID] = &sess
	cp := sess
	return &cp
}

// Session returns a snapshot of a call session
func (s *Store) Session(sessionID string) (*CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeSessionNotFound,
			fmt.Sprintf("session %s not found", sessionID), nil)
	}
	cp := *sess
	return &cp, nil
}

// RemoveSession drops a session when the caller disconnects entirely
func (s *Store) RemoveSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.active, sessionID)
}

// CreateTransfer atomically checks the single-active-transfer invariant and
// inserts a new instance in INITIATED. Exactly one of any set of concurrent
// calls for the same session succeeds.
func (s *Store) CreateTransfer(sessionID, sourceAgentID, targetAgentID string, callContext summarizer.SummaryRequest) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, apperrors.New(apperrors.ErrCodeSessionNotFound,
			fmt.Sprintf("session %s not found", sessionID), nil)
	}

	if activeID, ok := s.active[sessionID]; ok {
		if e, ok := s.transfers[activeID]; ok {
			e.mu.Lock()
			terminal := e.inst.State.Terminal()
			e.mu.Unlock()
			if !terminal {
				return nil, apperrors.New(apperrors.ErrCodeSessionHasActiveTransfer,
					fmt.Sprintf("session %s already has active transfer %s", sessionID, activeID), nil)
			}
		}
	}

	now := time.Now()
	inst := Instance{
		TransferID:    uuid.NewString(),
		SessionID:     sessionID,
		SourceAgentID: sourceAgentID,
		TargetAgentID: targetAgentID,
		Context:       callContext,
		State:         StateInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	s.transfers[inst.TransferID] = &entry{inst: inst}
	s.active[sessionID] = inst.TransferID

	return inst.clone(), nil
}

// Transfer returns a snapshot of an instance
func (s *Store) Transfer(transferID string) (*Instance, error) {
	e, err := s.entry(transferID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inst.clone(), nil
}

// Update applies one state transition under the instance's exclusion lock.
// Terminal instances are immutable. When from is non-empty the current state
// must be one of it; when version is non-zero the instance must not have
// moved since the caller's snapshot. Either check failing returns
// INVALID_STATE_TRANSITION carrying the state the winner produced.
func (s *Store) Update(transferID string, from []State, version uint64, apply func(*Instance)) (*Instance, error) {
	e, err := s.entry(transferID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inst.State.Terminal() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is already %s", transferID, e.inst.State), nil)
	}
	if len(from) > 0 && !stateIn(e.inst.State, from) {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is %s, expected one of %v", transferID, e.inst.State, from), nil)
	}
	if version != 0 && e.inst.Version != version {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s moved to %s since snapshot", transferID, e.inst.State), nil)
	}

	apply(&e.inst)
	e.inst.Version++
	e.inst.UpdatedAt = time.Now()
	return e.inst.clone(), nil
}

// CompleteTransfer is the single commit point: it atomically verifies the
// instance is in AGENT_JOINED, repoints the call session at the target agent
// and destination room, and marks the instance COMPLETED. This is the only
// place a CallSession is mutated.
func (s *Store) CompleteTransfer(transferID string) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.transfers[transferID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeTransferNotFound,
			fmt.Sprintf("transfer %s not found", transferID), nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inst.State != StateAgentJoined {
		return nil, apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is %s, complete requires %s", transferID, e.inst.State, StateAgentJoined), nil)
	}

	sess, ok := s.sessions[e.inst.SessionID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeSessionNotFound,
			fmt.Sprintf("session %s not found", e.inst.SessionID), nil)
	}

	now := time.Now()
	sess.CurrentAgentID = e.inst.TargetAgentID
	sess.OriginRoomID = e.inst.DestinationRoomID
	sess.UpdatedAt = now

	e.inst.State = StateCompleted
	e.inst.Version++
	e.inst.UpdatedAt = now

	return e.inst.clone(), nil
}

// AppendWarnings attaches post-commit cleanup warnings to a COMPLETED
// instance. Cleanup failures after the commit point never revert the
// transfer.
func (s *Store) AppendWarnings(transferID string, warnings ...string) error {
	e, err := s.entry(transferID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inst.State != StateCompleted {
		return apperrors.New(apperrors.ErrCodeInvalidStateTransition,
			fmt.Sprintf("transfer %s is %s, warnings attach to %s only", transferID, e.inst.State, StateCompleted), nil)
	}

	e.inst.Warnings = append(e.inst.Warnings, warnings...)
	e.inst.Version++
	return nil
}

// Stats summarizes store contents for the stats endpoint
type Stats struct {
	Sessions  int           `json:"sessions"`
	Transfers int           `json:"transfers"`
	ByState   map[State]int `json:"by_state"`
}

// Snapshot returns store-wide counts
func (s *Store) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Sessions:  len(s.sessions),
		Transfers: len(s.transfers),
		ByState:   make(map[State]int),
	}
	for _, e := range s.transfers {
		e.mu.Lock()
		stats.ByState[e.inst.State]++
		e.mu.Unlock()
	}
	return stats
}

// Sweep drops terminal instances whose retention window has elapsed and
// returns the number removed
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.transfers {
		e.mu.Lock()
		expired := e.inst.State.Terminal() && now.Sub(e.inst.UpdatedAt) > s.retention
		sessionID := e.inst.SessionID
		e.mu.Unlock()

		if expired {
			delete(s.transfers, id)
			if s.active[sessionID] == id {
				delete(s.active, sessionID)
			}
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("swept terminal transfers", zap.Int("removed", removed))
	}
	return removed
}

// StartJanitor runs Sweep on an interval until ctx is done
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(time.Now())
			}
		}
	}()
}

func (s *Store) entry(transferID string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.transfers[transferID]
	if !ok {
		return nil, apperrors.New(apperrors.ErrCodeTransferNotFound,
			fmt.Sprintf("transfer %s not found", transferID), nil)
	}
	return e, nil
}

func stateIn(state State, states []State) bool {
	for _, s := range states {
		if state == s {
			return true
		}
	}
	return false
}
