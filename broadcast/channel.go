// Package broadcast wraps a connectionless broadcast-capable UDP socket.
// No delivery or ordering guarantees are assumed of the medium; callers
// must tolerate duplicated, lost, and out-of-order datagrams.
package broadcast

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
)

// MaxDatagramSize bounds discovery payloads well under typical MTU.
const MaxDatagramSize = 1024

// ErrClosed is returned by Receive after Close; it is the cancellation
// signal for receive loops, distinguishable from transport errors.
var ErrClosed = errors.New("broadcast channel closed")

type Channel struct {
	conn   *net.UDPConn
	closed atomic.Bool
}

// Open binds a broadcast-capable UDP socket on all interfaces. Port 0 binds
// an ephemeral port (requester side); a fixed port is the responder side.
func Open(port int) (*Channel, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bind udp port %d: %w", port, err)
	}
	return &Channel{conn: conn}, nil
}

// SendBroadcast sends payload to the subnet broadcast address at the given
// destination port.
func (c *Channel) SendBroadcast(payload []byte, port int) error {
	dst := &net.UDPAddr{
		IP:   SubnetBroadcastIP(),
		Port: port,
	}
	return c.SendTo(payload, dst)
}

// SendTo sends payload to a specific address (unicast discovery replies).
func (c *Channel) SendTo(payload []byte, addr *net.UDPAddr) error {
	if _, err := c.conn.WriteToUDP(payload, addr); err != nil {
		return fmt.Errorf("udp send to %s failed: %w", addr, err)
	}
	return nil
}

// Receive blocks until a datagram arrives or the channel is closed. After
// Close it returns ErrClosed rather than leaking a blocked call.
func (c *Channel) Receive(buf []byte) (int, *net.UDPAddr, error) {
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		if c.closed.Load() || errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		return 0, nil, fmt.Errorf("udp receive failed: %w", err)
	}
	return n, addr, nil
}

// Close is idempotent and unblocks any pending Receive.
func (c *Channel) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.conn.Close()
	}
	return nil
}

// LocalPort returns the bound port (useful after binding port 0).
func (c *Channel) LocalPort() int {
	return c.conn.LocalAddr().(*net.UDPAddr).Port
}
