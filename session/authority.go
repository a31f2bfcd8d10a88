package session

import "github.com/lanlobby/lanlobby/model"

// HostAuthority is the capability to resolve identities against the
// authoritative roster. The Manager mints one only on the Idle → Hosting
// transition and hands it to the relay; non-hosting code paths never hold
// one, which makes the trust boundary a property of who has the value
// rather than a runtime role check.
type HostAuthority struct {
	m *Manager
}

// ResolveName maps a connection-assigned client id to its authoritative
// display name. Client-supplied names are never consulted.
func (a *HostAuthority) ResolveName(clientID uint64) (string, bool) {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()

	p, ok := a.m.roster[clientID]
	if !ok {
		return "", false
	}
	return p.DisplayName, true
}

// Entries returns a snapshot of the current roster.
func (a *HostAuthority) Entries() []model.PeerIdentity {
	a.m.mu.RLock()
	defer a.m.mu.RUnlock()

	out := make([]model.PeerIdentity, 0, len(a.m.roster))
	for _, p := range a.m.roster {
		out = append(out, p)
	}
	return out
}

// Authority exposes the capability while hosting; any other role yields
// nothing.
func (m *Manager) Authority() (*HostAuthority, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.role != RoleHosting || m.auth == nil {
		return nil, false
	}
	return m.auth, true
}
