package session

import "github.com/lanlobby/lanlobby/model"

// Role is this process's place in a session. Exactly one role is active at
// a time; re-entry into a non-idle role is a no-op, not an error.
type Role int

const (
	RoleIdle Role = iota
	RoleHosting
	RoleConnecting
	RoleConnected
	RoleDisconnected
)

func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RoleHosting:
		return "hosting"
	case RoleConnecting:
		return "connecting"
	case RoleConnected:
		return "connected"
	case RoleDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// EventType tags session events delivered to the embedding layer.
type EventType int

const (
	EventRoleChanged EventType = iota
	EventMessage
	EventPeerJoined
	EventPeerLeft
	EventHostStartFailed
	EventDiscoveryStartFailed
	EventConnectFailed
)

// Event is a session notification. Which fields are set depends on Type.
// Events are emitted from the dispatch context, one at a time.
type Event struct {
	Type    EventType
	Role    Role
	Message model.ChatMessage
	Peer    model.PeerIdentity
	Err     error
}
