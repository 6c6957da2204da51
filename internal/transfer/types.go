package transfer

import (
	"time"

	"github.com/relaycall/relaycall/internal/summarizer"
)

// State is the lifecycle state of a transfer instance
type State string

const (
	StateInitiated    State = "INITIATED"
	StateRoomReady    State = "ROOM_READY"
	StateSummaryReady State = "SUMMARY_READY"
	StateAgentJoined  State = "AGENT_JOINED"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateCancelled    State = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// CallSession represents one caller's ongoing conversation. It outlives any
// number of transfers and is mutated only at the complete-transfer commit
// point.
type CallSession struct {
	SessionID      string    `json:"session_id"`
	OriginRoomID   string    `json:"origin_room_id"`
	CurrentAgentID string    `json:"current_agent_id"`
	CallerIdentity string    `json:"caller_identity"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Instance is the stateful record of one warm transfer attempt
type Instance struct {
	TransferID        string   `json:"transfer_id"`
	SessionID         string   `json:"session_id"`
	SourceAgentID     string   `json:"source_agent_id"`
	TargetAgentID     string   `json:"target_agent_id"`
	DestinationRoomID string   `json:"destination_room_id,omitempty"`
	Summary           string   `json:"summary,omitempty"`
	SummaryDegraded   bool     `json:"summary_degraded,omitempty"`
	State             State    `json:"state"`
	FailureCode       string   `json:"failure_code,omitempty"`
	FailureReason     string   `json:"failure_reason,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`

	// Context is the call context captured at initiate time, used for
	// summary generation and re-generation.
	Context summarizer.SummaryRequest `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Version increments on every mutation. External-call results are
	// applied with a state or version check so stale results are
	// discarded when the instance moved on in the meantime.
	Version uint64 `json:"-"`
}

func (i *Instance) clone() *Instance {
	cp := *i
	if i.Warnings != nil {
		cp.Warnings = append([]string(nil), i.Warnings...)
	}
	if i.Context.History != nil {
		cp.Context.History = append([]summarizer.Entry(nil), i.Context.History...)
	}
	return &cp
}
