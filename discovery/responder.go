// Package discovery implements LAN host discovery over UDP broadcast.
// A joining peer broadcasts a fixed sentinel request to the discovery
// port; a hosting peer answers with a unicast ServerAnnouncement carrying
// its real session endpoint. The medium is lossy, so requests are retried
// and duplicate or late responses are treated as expected redundancy.
package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/broadcast"
	"github.com/lanlobby/lanlobby/model"
)

const (
	// RequestToken is the sentinel discovery request payload. A responder
	// replies only to a byte-exact match; everything else is LAN noise.
	RequestToken = "LANLOBBY_DISCOVER_V1"

	// DefaultPort is the fixed UDP discovery port shared by all
	// participants of a deployment. Distinct from the session listen port.
	DefaultPort = 48606
)

// Responder answers discovery requests with the host's announcement for as
// long as it runs. It never stops itself; the session stops it once the
// host no longer wants new joiners.
type Responder struct {
	port   int
	ann    model.ServerAnnouncement
	logger zerolog.Logger

	ch *broadcast.Channel
	wg sync.WaitGroup
}

func NewResponder(port int, ann model.ServerAnnouncement, logger *zerolog.Logger) *Responder {
	return &Responder{
		port:   port,
		ann:    ann,
		logger: logger.With().Str("component", "discovery-responder").Logger(),
	}
}

// Start binds the discovery port and begins answering. A bind failure is
// returned once and leaves the responder inert, safe to retry.
func (r *Responder) Start() error {
	ch, err := broadcast.Open(r.port)
	if err != nil {
		return err
	}
	r.ch = ch

	r.wg.Add(1)
	go r.serve()

	r.logger.Info().
		Int("port", r.ch.LocalPort()).
		Str("announce", r.ann.Addr()).
		Msg("responder started")
	return nil
}

func (r *Responder) serve() {
	defer r.wg.Done()

	reply, err := json.Marshal(r.ann)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal announcement")
		return
	}

	buf := make([]byte, broadcast.MaxDatagramSize)
	for {
		n, sender, err := r.ch.Receive(buf)
		if err != nil {
			if !errors.Is(err, broadcast.ErrClosed) {
				r.logger.Error().Err(err).Msg("receive failed")
			}
			return
		}

		if !bytes.Equal(buf[:n], []byte(RequestToken)) {
			r.logger.Debug().
				Str("sender", sender.String()).
				Int("len", n).
				Msg("ignoring datagram, not a discovery request")
			continue
		}

		if err := r.ch.SendTo(reply, sender); err != nil {
			r.logger.Error().Err(err).Str("sender", sender.String()).Msg("reply failed")
			continue
		}
		r.logger.Debug().Str("sender", sender.String()).Msg("answered discovery request")
	}
}

// Stop closes the channel, unblocking the in-flight receive, and waits for
// the serve loop to end. Idempotent.
func (r *Responder) Stop() {
	if r.ch == nil {
		return
	}
	_ = r.ch.Close()
	r.wg.Wait()
	r.logger.Debug().Msg("responder stopped")
}
