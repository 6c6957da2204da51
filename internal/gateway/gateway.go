package gateway

import (
	"context"
	"time"
)

// Gateway defines the interface to the real-time room platform. It is a thin
// capability set: retry policy lives in the transfer orchestrator, not here.
type Gateway interface {
	// CreateRoom creates a new room
	CreateRoom(ctx context.Context, name string, opts CreateRoomOptions) (*Room, error)

	// DeleteRoom deletes a room and disconnects all participants
	DeleteRoom(ctx context.Context, name string) error

	// ListRooms returns all active rooms
	ListRooms(ctx context.Context) ([]*Room, error)

	// ListParticipants returns the identities currently admitted to a room
	ListParticipants(ctx context.Context, room string) ([]*Participant, error)

	// RemoveParticipant removes a participant from a room. Removing an
	// identity that is not present is treated as already satisfied and
	// returns nil.
	RemoveParticipant(ctx context.Context, room, identity string) error

	// IssueJoinCredential mints a short-lived credential the participant
	// uses to join the room. The gateway never moves media itself.
	IssueJoinCredential(ctx context.Context, room, identity string, role Role) (*Credential, error)
}

// CreateRoomOptions carries optional room settings
type CreateRoomOptions struct {
	MaxParticipants int
	EmptyTimeout    time.Duration
	Metadata        string
}

// Room describes a room on the platform
type Room struct {
	SID             string    `json:"sid,omitempty"`
	Name            string    `json:"name"`
	MaxParticipants int       `json:"max_participants,omitempty"`
	NumParticipants int       `json:"num_participants"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	Metadata        string    `json:"metadata,omitempty"`
}

// Participant describes one admitted identity in a room
type Participant struct {
	SID      string `json:"sid,omitempty"`
	Identity string `json:"identity"`
	Name     string `json:"name,omitempty"`
	State    string `json:"state,omitempty"`
}

// Credential is a join credential for a single identity and room
type Credential struct {
	Token     string    `json:"token"`
	Room      string    `json:"room"`
	Identity  string    `json:"identity"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}
