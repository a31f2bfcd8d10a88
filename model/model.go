package model

import "fmt"

// ServerAnnouncement is the discovery response payload. It is produced by a
// hosting peer and consumed by a joining peer; it lives only for one
// discovery round-trip.
type ServerAnnouncement struct {
	Address    string `json:"address"`
	Port       uint16 `json:"port"`
	ServerName string `json:"server_name"`
}

// Addr returns the announced session endpoint as "address:port".
func (a ServerAnnouncement) Addr() string {
	return fmt.Sprintf("%s:%d", a.Address, a.Port)
}

// PeerIdentity is one entry of the session roster. ClientID is assigned by
// the connection layer and is unique for the lifetime of a session.
type PeerIdentity struct {
	ClientID    uint64 `json:"client_id"`
	DisplayName string `json:"display_name"`
}

// ChatMessage is a relayed chat line as every peer displays it. SenderName
// is stamped by the host from the authoritative roster, never taken from
// client-supplied data.
type ChatMessage struct {
	SenderID   uint64 `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// Frame types carried over the session transport.
const (
	FrameSubmit        = "submit"
	FrameChat          = "chat"
	FrameRosterRequest = "roster_request"
	FrameRosterUpdate  = "roster_update"
	FrameRosterRemove  = "roster_remove"
)

// Frame is the single envelope for all relay RPC traffic. Which fields are
// meaningful depends on Type:
//
//	submit:         SenderID, Text   (host re-assigns SenderID from the connection)
//	chat:           SenderID, Name, Text
//	roster_request: SenderID
//	roster_update:  ClientID, Name
//	roster_remove:  ClientID
type Frame struct {
	Type     string `json:"type"`
	SenderID uint64 `json:"sender_id,omitempty"`
	ClientID uint64 `json:"client_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
}
