// Package transport is the reliable ordered per-connection session
// transport: a websocket listener on the host side and a dialer on the
// peer side. Each connection carries JSON frames; per-connection outbound
// channels preserve write order, which is what the relay's total-ordering
// guarantee rides on.
package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/model"
)

const (
	// SessionPath is the websocket endpoint peers dial.
	SessionPath = "/session"

	// ClientIDHeader conveys the host-assigned client id in the upgrade
	// response; this is how the connection layer hands a peer its identity.
	ClientIDHeader = "X-Lanlobby-Client-Id"

	// HostClientID is the host's own client id; remote peers get 2 and up.
	HostClientID uint64 = 1

	defaultShutdownDeadline = 10 * time.Second
	defaultSendTimeout      = time.Second
	defaultTxBuffer         = 32

	defaultHandshakeTimeout   = 3 * time.Second
	defaultReadBufferSize     = 4096
	defaultWriteBufferSize    = 4096
	defaultMaxMessageSize     = 4096
	defaultWriteDeadline      = 5 * time.Second
	defaultCloseWriteDeadline = 2 * time.Second

	// defaultPongWait - defaultPingInterval == how long a peer has to answer
	defaultPingInterval = 5 * time.Second
	defaultPongWait     = 7 * time.Second
)

var (
	ErrPeerNotFound = errors.New("peer connection not found")
	ErrSendTimeout  = errors.New("send timed out, dead endpoint")
)

// HostEvents receives connection-layer signals. Implementations must not
// block: these are called from transport goroutines and are expected to
// hand off into a dispatch queue.
type HostEvents interface {
	PeerConnected(id uint64)
	PeerDisconnected(id uint64)
	FrameReceived(id uint64, f model.Frame)
}

type peerConn struct {
	id   uint64
	tx   chan model.Frame
	conn *websocket.Conn
}

type HostConfig struct {
	Logger     *zerolog.Logger
	Events     HostEvents
	ListenAddr string
}

// Host accepts peer connections, assigns client ids, and fans frames out
// over per-connection TX channels.
type Host struct {
	*http.Server
	ws     *websocket.Upgrader
	ev     HostEvents
	logger zerolog.Logger

	mx     sync.RWMutex
	conns  map[uint64]*peerConn
	nextID atomic.Uint64
	port   atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHost(cfg HostConfig) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Host{
		logger: cfg.Logger.With().Str("component", "session-host").Logger(),
		ev:     cfg.Events,
		conns:  make(map[uint64]*peerConn),
		ctx:    ctx,
		cancel: cancel,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultHandshakeTimeout,
			ReadBufferSize:   defaultReadBufferSize,
			WriteBufferSize:  defaultWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	h.nextID.Store(HostClientID)

	mux := http.NewServeMux()
	mux.HandleFunc(SessionPath, h.accept)

	h.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}
	return h
}

// Start binds the listener and begins serving. The bind error is returned
// synchronously so a failed host start leaves the session in its
// pre-attempt state.
func (h *Host) Start() error {
	l, err := net.Listen("tcp", h.Addr)
	if err != nil {
		return err
	}
	h.port.Store(uint32(l.Addr().(*net.TCPAddr).Port))

	go func() {
		if err := h.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("serve failed")
		}
	}()

	h.logger.Info().Str("addr", l.Addr().String()).Msg("session listener started")
	return nil
}

// ListenPort returns the bound port once Start has succeeded.
func (h *Host) ListenPort() uint16 {
	return uint16(h.port.Load())
}

func (h *Host) accept(w http.ResponseWriter, r *http.Request) {
	id := h.nextID.Add(1)

	conn, err := h.ws.Upgrade(w, r, http.Header{
		ClientIDHeader: []string{strconv.FormatUint(id, 10)},
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	logger := h.logger.With().
		Uint64("clientID", id).
		Str("connID", uuid.NewString()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	pc := &peerConn{
		id:   id,
		tx:   make(chan model.Frame, defaultTxBuffer),
		conn: conn,
	}

	h.mx.Lock()
	h.conns[id] = pc
	h.mx.Unlock()

	logger.Debug().Msg("peer connected")
	h.ev.PeerConnected(id)

	go h.handleConn(pc, &logger)
}

func (h *Host) handleConn(pc *peerConn, logger *zerolog.Logger) {
	ctx, cancel := context.WithCancel(h.ctx)

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		h.receiver(ctx, pc.conn, pc.id, logger)
		cancel()
		wg.Done()
	}()
	go func() {
		sender(ctx, pc.conn, pc.tx, logger)
		cancel()
		wg.Done()
	}()
	wg.Wait()

	// Both loops have exited, so this is the connection's only writer.
	closeConn(pc.conn, logger)

	h.mx.Lock()
	delete(h.conns, pc.id)
	h.mx.Unlock()

	logger.Debug().Msg("peer disconnected")
	h.ev.PeerDisconnected(pc.id)
}

func (h *Host) receiver(ctx context.Context, conn *websocket.Conn, id uint64, logger *zerolog.Logger) {
	receive(ctx, conn, logger, func(f model.Frame) {
		// The connection is the identity; client-supplied sender ids carry
		// no trust.
		f.SenderID = id
		h.ev.FrameReceived(id, f)
	})
}

// Broadcast fans a frame out to every connected peer. Called sequentially
// from the dispatch context, so all peers observe the same frame order.
func (h *Host) Broadcast(f model.Frame) {
	h.mx.RLock()
	conns := make([]*peerConn, 0, len(h.conns))
	for _, pc := range h.conns {
		conns = append(conns, pc)
	}
	h.mx.RUnlock()

	for _, pc := range conns {
		if err := h.push(pc, f); err != nil {
			h.logger.Error().Err(err).Uint64("clientID", pc.id).Msg("broadcast push failed")
		}
	}
}

// Send delivers a frame to one peer (unicast roster replay).
func (h *Host) Send(id uint64, f model.Frame) error {
	h.mx.RLock()
	pc, ok := h.conns[id]
	h.mx.RUnlock()
	if !ok {
		return ErrPeerNotFound
	}
	return h.push(pc, f)
}

func (h *Host) push(pc *peerConn, f model.Frame) error {
	t := time.NewTimer(defaultSendTimeout)
	defer t.Stop()
	select {
	case pc.tx <- f:
		return nil
	case <-t.C:
		return ErrSendTimeout
	case <-h.ctx.Done():
		return h.ctx.Err()
	}
}

// Close stops accepting and tears down every connection. Idempotent.
func (h *Host) Close() {
	h.cancel()

	h.mx.RLock()
	conns := make([]*peerConn, 0, len(h.conns))
	for _, pc := range h.conns {
		conns = append(conns, pc)
	}
	h.mx.RUnlock()
	for _, pc := range conns {
		// Bare Close is safe alongside a concurrent writer; it unblocks the
		// reader and lets handleConn finish the teardown. The close frame is
		// written there, once the sender loop has exited.
		_ = pc.conn.Close()
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
	defer shCancel()
	if err := h.Shutdown(shCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.logger.Error().Err(err).Msg("shutdown failed")
	}
	h.logger.Debug().Msg("session listener stopped")
}
