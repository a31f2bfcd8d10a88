package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/model"
)

// ErrHostLost signals that the connection to the host dropped without a
// local Close.
var ErrHostLost = errors.New("connection to host lost")

// ClientEvents receives connection-layer signals on the joining-peer side.
// Implementations must not block.
type ClientEvents interface {
	// Disconnected fires at most once, and only when the connection drops
	// for a reason other than a local Close.
	Disconnected(err error)
	FrameReceived(f model.Frame)
}

// Client is one peer's connection to the host.
type Client struct {
	conn   *websocket.Conn
	selfID uint64
	tx     chan model.Frame
	logger zerolog.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	localClose atomic.Bool
	done       chan struct{}
}

// Dial connects to a host's session endpoint. The host assigns this peer's
// client id during the handshake; it is available via ID afterwards.
func Dial(ctx context.Context, addr string, ev ClientEvents, logger *zerolog.Logger) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: SessionPath}

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}

	selfID, err := strconv.ParseUint(resp.Header.Get(ClientIDHeader), 10, 64)
	if err != nil || selfID == 0 {
		_ = conn.Close()
		return nil, fmt.Errorf("host did not assign a client id: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:   conn,
		selfID: selfID,
		tx:     make(chan model.Frame, defaultTxBuffer),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger.With().
			Str("component", "session-client").
			Uint64("clientID", selfID).
			Logger(),
	}

	wg := &sync.WaitGroup{}
	wg.Add(2)
	go func() {
		receive(cctx, conn, &c.logger, ev.FrameReceived)
		cancel()
		wg.Done()
	}()
	go func() {
		sender(cctx, conn, c.tx, &c.logger)
		cancel()
		wg.Done()
	}()
	go func() {
		wg.Wait()
		// Both loops have exited, so this is the connection's only writer.
		closeConn(conn, &c.logger)
		close(c.done)
		if !c.localClose.Load() {
			ev.Disconnected(ErrHostLost)
		}
	}()

	c.logger.Info().Str("host", addr).Msg("connected to host")
	return c, nil
}

// ID returns the client id the host assigned during the handshake.
func (c *Client) ID() uint64 {
	return c.selfID
}

// Send queues a frame for the host. Fire-and-forget from the protocol's
// point of view; an error here means the connection is already dead.
func (c *Client) Send(f model.Frame) error {
	t := time.NewTimer(defaultSendTimeout)
	defer t.Stop()
	select {
	case c.tx <- f:
		return nil
	case <-t.C:
		return ErrSendTimeout
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// Close tears the connection down without firing Disconnected. Idempotent.
func (c *Client) Close() {
	c.localClose.Store(true)
	c.cancel()
	// Bare Close is safe alongside a concurrent writer; it unblocks the
	// reader. The close frame is written by the waiter goroutine once both
	// loops have exited.
	_ = c.conn.Close()
	<-c.done
	c.logger.Debug().Msg("client closed")
}
