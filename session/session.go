// Package session owns the connection lifecycle state machine: the
// process's role, the roster of connected peers, and the side effects of
// every transition. All state mutation happens on the dispatch queue's
// draining goroutine; background listeners only post. Readers get
// snapshots through a read lock, never a field mid-update.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/dispatch"
	"github.com/lanlobby/lanlobby/model"
	"github.com/lanlobby/lanlobby/relay"
	"github.com/lanlobby/lanlobby/transport"
)

// HostTransport is the host side of the session transport.
type HostTransport interface {
	Start() error
	ListenPort() uint16
	Broadcast(f model.Frame)
	Send(id uint64, f model.Frame) error
	Close()
}

// ClientTransport is one established connection to a host.
type ClientTransport interface {
	ID() uint64
	Send(f model.Frame) error
	Close()
}

// Announcer is the discovery responder lifecycle.
type Announcer interface {
	Start() error
	Stop()
}

// Finder is the discovery requester lifecycle.
type Finder interface {
	Start() error
	Stop()
}

// Config wires the Manager to its collaborators. The transport and
// discovery factories keep the state machine testable and keep all side
// effects of a transition inside the Manager.
type Config struct {
	Logger *zerolog.Logger
	Queue  *dispatch.Queue

	// OnEvent is invoked from the dispatch context, serialized.
	OnEvent func(Event)

	ServerName  string
	AnnounceIP  string
	MaxMessages int

	NewHost      func(ev transport.HostEvents) HostTransport
	Dial         func(ctx context.Context, addr string, ev transport.ClientEvents) (ClientTransport, error)
	NewResponder func(ann model.ServerAnnouncement) Announcer
	NewRequester func(found func(model.ServerAnnouncement)) Finder
}

// Manager is the session state machine. Exported commands post onto the
// dispatch queue; the transition logic itself runs only on the draining
// goroutine.
type Manager struct {
	cfg    Config
	queue  *dispatch.Queue
	logger zerolog.Logger

	mu      sync.RWMutex
	role    Role
	roster  map[uint64]model.PeerIdentity
	history *relay.History

	selfID    uint64
	host      HostTransport
	client    ClientTransport
	relay     *relay.Host
	auth      *HostAuthority
	responder Announcer
	requester Finder
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		cfg:     cfg,
		queue:   cfg.Queue,
		logger:  cfg.Logger.With().Str("component", "session").Logger(),
		role:    RoleIdle,
		roster:  make(map[uint64]model.PeerIdentity),
		history: relay.NewHistory(cfg.MaxMessages),
	}
}

// Run drains the dispatch queue until ctx is canceled, then shuts the
// session down. This goroutine is the single writer of role and roster.
func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			m.queue.Drain()
			return
		case <-m.queue.C():
			m.queue.Drain()
		}
	}
}

// StartHosting begins an Idle → Hosting attempt.
func (m *Manager) StartHosting() {
	m.queue.Post(m.startHosting)
}

// StartDiscovery begins broadcasting discovery requests. The role stays
// Idle until an announcement is accepted.
func (m *Manager) StartDiscovery() {
	m.queue.Post(m.startDiscovery)
}

// Connect accepts an announcement and begins an Idle → Connecting attempt.
func (m *Manager) Connect(ann model.ServerAnnouncement) {
	m.queue.Post(func() { m.connect(ann) })
}

// Submit sends a chat message into the relay.
func (m *Manager) Submit(text string) {
	m.queue.Post(func() { m.submit(text) })
}

// Shutdown ends the current session attempt, whatever its state.
func (m *Manager) Shutdown() {
	m.queue.Post(m.shutdown)
}

// Role returns a momentarily-consistent snapshot of the current role.
func (m *Manager) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

// Roster returns a snapshot of the known peers.
func (m *Manager) Roster() []model.PeerIdentity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PeerIdentity, 0, len(m.roster))
	for _, p := range m.roster {
		out = append(out, p)
	}
	return out
}

// Messages returns the visible chat window, oldest first.
func (m *Manager) Messages() []model.ChatMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.history.Messages()
}

// ---- transitions, dispatch context only ----

func (m *Manager) startHosting() {
	if m.role != RoleIdle {
		m.logger.Debug().Stringer("role", m.role).Msg("start hosting ignored, not idle")
		return
	}

	host := m.cfg.NewHost(&hostEvents{m})
	if err := host.Start(); err != nil {
		m.logger.Error().Err(err).Msg("failed to start session listener")
		m.emit(Event{Type: EventHostStartFailed, Err: err})
		return
	}
	m.host = host
	m.selfID = transport.HostClientID
	m.auth = &HostAuthority{m: m}
	m.relay = relay.NewHost(m.auth, host, m.deliver, &m.logger)

	responder := m.cfg.NewResponder(model.ServerAnnouncement{
		Address:    m.cfg.AnnounceIP,
		Port:       host.ListenPort(),
		ServerName: m.cfg.ServerName,
	})
	if err := responder.Start(); err != nil {
		m.logger.Error().Err(err).Msg("failed to start discovery responder")
		host.Close()
		m.host, m.relay, m.auth = nil, nil, nil
		m.emit(Event{Type: EventDiscoveryStartFailed, Err: err})
		return
	}
	m.responder = responder

	m.mu.Lock()
	m.roster[m.selfID] = model.PeerIdentity{
		ClientID:    m.selfID,
		DisplayName: playerName(m.selfID),
	}
	m.mu.Unlock()

	m.setRole(RoleHosting)
}

func (m *Manager) startDiscovery() {
	if m.role != RoleIdle || m.requester != nil {
		m.logger.Debug().Stringer("role", m.role).Msg("start discovery ignored")
		return
	}

	requester := m.cfg.NewRequester(func(ann model.ServerAnnouncement) {
		m.queue.Post(func() { m.connect(ann) })
	})
	if err := requester.Start(); err != nil {
		m.logger.Error().Err(err).Msg("failed to start discovery requester")
		m.emit(Event{Type: EventDiscoveryStartFailed, Err: err})
		return
	}
	m.requester = requester
}

func (m *Manager) connect(ann model.ServerAnnouncement) {
	if m.role != RoleIdle {
		// Duplicate announcements during Connecting/Connected are the
		// expected redundancy case.
		m.logger.Debug().Stringer("role", m.role).Msg("connect ignored")
		return
	}

	if m.requester != nil {
		m.requester.Stop()
		m.requester = nil
	}

	m.setRole(RoleConnecting)
	m.logger.Info().Str("addr", ann.Addr()).Str("server", ann.ServerName).Msg("connecting")

	go func() {
		client, err := m.cfg.Dial(context.Background(), ann.Addr(), &clientEvents{m})
		m.queue.Post(func() { m.dialDone(client, err) })
	}()
}

func (m *Manager) dialDone(client ClientTransport, err error) {
	if m.role != RoleConnecting {
		// The attempt was abandoned while dialing.
		if err == nil && client != nil {
			client.Close()
		}
		return
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("connect failed")
		m.emit(Event{Type: EventConnectFailed, Err: err})
		m.endAttempt()
		return
	}

	m.client = client
	m.selfID = client.ID()
	m.setRole(RoleConnected)

	// Late-joiner roster sync; replies are idempotent updates.
	if err := client.Send(model.Frame{Type: model.FrameRosterRequest, SenderID: m.selfID}); err != nil {
		m.logger.Error().Err(err).Msg("roster request failed")
	}
}

func (m *Manager) submit(text string) {
	switch m.role {
	case RoleHosting:
		m.relay.Relay(m.selfID, text)
	case RoleConnected:
		err := m.client.Send(model.Frame{
			Type:     model.FrameSubmit,
			SenderID: m.selfID,
			Text:     text,
		})
		if err != nil {
			m.logger.Error().Err(err).Msg("submit failed")
		}
	default:
		m.logger.Debug().Stringer("role", m.role).Msg("submit ignored, no session")
	}
}

func (m *Manager) shutdown() {
	if m.requester != nil {
		m.requester.Stop()
		m.requester = nil
	}
	if m.role == RoleIdle {
		return
	}
	m.endAttempt()
}

// endAttempt tears down whatever the current attempt built and walks
// Disconnected back to Idle readiness.
func (m *Manager) endAttempt() {
	if m.responder != nil {
		m.responder.Stop()
		m.responder = nil
	}
	if m.host != nil {
		m.host.Close()
		m.host = nil
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	m.relay = nil
	m.auth = nil
	m.selfID = 0

	m.mu.Lock()
	m.roster = make(map[uint64]model.PeerIdentity)
	m.mu.Unlock()

	m.setRole(RoleDisconnected)
	m.setRole(RoleIdle)
}

// ---- host-side transport signals ----

func (m *Manager) peerConnected(id uint64) {
	if m.role != RoleHosting {
		return
	}
	p := model.PeerIdentity{ClientID: id, DisplayName: playerName(id)}

	m.mu.Lock()
	m.roster[id] = p
	m.mu.Unlock()

	m.relay.AnnounceJoin(p)
	m.logger.Info().Uint64("clientID", id).Str("name", p.DisplayName).Msg("peer joined")
	m.emit(Event{Type: EventPeerJoined, Peer: p})
}

func (m *Manager) peerDisconnected(id uint64) {
	if m.role != RoleHosting {
		return
	}
	m.mu.Lock()
	p, ok := m.roster[id]
	delete(m.roster, id)
	m.mu.Unlock()
	if !ok {
		return
	}

	m.relay.AnnounceLeave(id)
	m.logger.Info().Uint64("clientID", id).Msg("peer left")
	m.emit(Event{Type: EventPeerLeft, Peer: p})
}

func (m *Manager) hostFrame(id uint64, f model.Frame) {
	if m.role != RoleHosting {
		return
	}
	switch f.Type {
	case model.FrameSubmit:
		m.relay.Relay(id, f.Text)
	case model.FrameRosterRequest:
		m.relay.SyncRoster(id)
	default:
		m.logger.Debug().
			Uint64("clientID", id).
			Str("type", f.Type).
			Msg("dropping unexpected frame")
	}
}

// ---- client-side transport signals ----

func (m *Manager) clientFrame(f model.Frame) {
	if m.role != RoleConnecting && m.role != RoleConnected {
		return
	}
	switch f.Type {
	case model.FrameChat:
		m.deliver(model.ChatMessage{
			SenderID:   f.SenderID,
			SenderName: f.Name,
			Text:       f.Text,
		})
	case model.FrameRosterUpdate:
		m.applyRosterUpdate(f.ClientID, f.Name)
	case model.FrameRosterRemove:
		m.applyRosterRemove(f.ClientID)
	default:
		m.logger.Debug().Str("type", f.Type).Msg("dropping unexpected frame")
	}
}

func (m *Manager) clientDisconnected(err error) {
	if m.role != RoleConnecting && m.role != RoleConnected {
		return
	}
	m.logger.Warn().Err(err).Msg("session transport dropped")
	m.client = nil // already dead, nothing to Close
	m.emit(Event{Type: EventConnectFailed, Err: err})
	m.endAttempt()
}

// applyRosterUpdate is idempotent: re-applying an identical update leaves
// state unchanged and emits nothing.
func (m *Manager) applyRosterUpdate(id uint64, name string) {
	p := model.PeerIdentity{ClientID: id, DisplayName: name}

	m.mu.Lock()
	prev, known := m.roster[id]
	if known && prev == p {
		m.mu.Unlock()
		return
	}
	m.roster[id] = p
	m.mu.Unlock()

	if !known {
		m.emit(Event{Type: EventPeerJoined, Peer: p})
	}
}

func (m *Manager) applyRosterRemove(id uint64) {
	m.mu.Lock()
	p, ok := m.roster[id]
	delete(m.roster, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	m.emit(Event{Type: EventPeerLeft, Peer: p})
}

// ---- shared ----

// deliver appends a relayed message to the visible window and notifies the
// display. On the host this is also the local leg of every fan-out.
func (m *Manager) deliver(msg model.ChatMessage) {
	m.mu.Lock()
	m.history.Append(msg)
	m.mu.Unlock()
	m.emit(Event{Type: EventMessage, Message: msg})
}

func (m *Manager) setRole(r Role) {
	m.mu.Lock()
	m.role = r
	m.mu.Unlock()
	m.logger.Info().Stringer("role", r).Msg("role changed")
	m.emit(Event{Type: EventRoleChanged, Role: r})
}

func (m *Manager) emit(ev Event) {
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(ev)
	}
}

func playerName(id uint64) string {
	return fmt.Sprintf("Player %d", id)
}

// hostEvents marshals host transport signals onto the dispatch queue.
type hostEvents struct{ m *Manager }

func (e *hostEvents) PeerConnected(id uint64) {
	e.m.queue.Post(func() { e.m.peerConnected(id) })
}

func (e *hostEvents) PeerDisconnected(id uint64) {
	e.m.queue.Post(func() { e.m.peerDisconnected(id) })
}

func (e *hostEvents) FrameReceived(id uint64, f model.Frame) {
	e.m.queue.Post(func() { e.m.hostFrame(id, f) })
}

// clientEvents marshals client transport signals onto the dispatch queue.
type clientEvents struct{ m *Manager }

func (e *clientEvents) Disconnected(err error) {
	e.m.queue.Post(func() { e.m.clientDisconnected(err) })
}

func (e *clientEvents) FrameReceived(f model.Frame) {
	e.m.queue.Post(func() { e.m.clientFrame(f) })
}
