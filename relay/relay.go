// Package relay implements the host-mediated message relay. Every chat
// message flows through the host: a peer submits a relay request, the host
// stamps the sender name from the authoritative roster and fans the result
// out to all peers, including its own display. The host processes requests
// one at a time on the session's dispatch context and fans out
// synchronously per request, so all peers observe the same message order.
package relay

import (
	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/model"
)

// Authority resolves identities against the authoritative roster. Only the
// session hands one out, and only while hosting; holding an Authority is
// what entitles this code to decide sender names.
type Authority interface {
	ResolveName(clientID uint64) (string, bool)
	Entries() []model.PeerIdentity
}

// Broadcaster fans frames out over the session transport.
type Broadcaster interface {
	Broadcast(f model.Frame)
	Send(id uint64, f model.Frame) error
}

// Host validates and relays chat traffic while this process is hosting.
type Host struct {
	auth   Authority
	tx     Broadcaster
	local  func(model.ChatMessage)
	logger zerolog.Logger
}

// NewHost wires the relay to the hosting session. local delivers each
// relayed message to the host's own display, since the host is a client of
// its own session but has no transport connection to itself.
func NewHost(auth Authority, tx Broadcaster, local func(model.ChatMessage), logger *zerolog.Logger) *Host {
	return &Host{
		auth:   auth,
		tx:     tx,
		local:  local,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Relay handles one submitted message. senderID is the connection-assigned
// id, never client-supplied data. Invalid requests (unknown sender, empty
// text) are dropped and logged, never fatal.
func (h *Host) Relay(senderID uint64, text string) {
	if text == "" {
		h.logger.Debug().Uint64("senderID", senderID).Msg("dropping empty message")
		return
	}
	name, ok := h.auth.ResolveName(senderID)
	if !ok {
		h.logger.Debug().Uint64("senderID", senderID).Msg("dropping message from unknown sender")
		return
	}

	msg := model.ChatMessage{
		SenderID:   senderID,
		SenderName: name,
		Text:       text,
	}
	h.tx.Broadcast(model.Frame{
		Type:     model.FrameChat,
		SenderID: msg.SenderID,
		Name:     msg.SenderName,
		Text:     msg.Text,
	})
	h.local(msg)
}

// SyncRoster answers a late joiner's roster request with one update per
// current entry, unicast to the requester. Updates are idempotent on the
// receiving side, so replay order and duplicates are harmless.
func (h *Host) SyncRoster(requestingID uint64) {
	for _, p := range h.auth.Entries() {
		err := h.tx.Send(requestingID, model.Frame{
			Type:     model.FrameRosterUpdate,
			ClientID: p.ClientID,
			Name:     p.DisplayName,
		})
		if err != nil {
			h.logger.Debug().
				Err(err).
				Uint64("requestingID", requestingID).
				Msg("roster replay failed")
			return
		}
	}
	h.logger.Debug().Uint64("requestingID", requestingID).Msg("roster replayed")
}

// AnnounceJoin fans a new roster entry out to every peer.
func (h *Host) AnnounceJoin(p model.PeerIdentity) {
	h.tx.Broadcast(model.Frame{
		Type:     model.FrameRosterUpdate,
		ClientID: p.ClientID,
		Name:     p.DisplayName,
	})
}

// AnnounceLeave fans a roster removal out to every peer.
func (h *Host) AnnounceLeave(clientID uint64) {
	h.tx.Broadcast(model.Frame{
		Type:     model.FrameRosterRemove,
		ClientID: clientID,
	})
}
