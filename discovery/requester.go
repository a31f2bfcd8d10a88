package discovery

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/broadcast"
	"github.com/lanlobby/lanlobby/model"
)

const (
	// DefaultAttempts and DefaultInterval compensate for lossy broadcast
	// delivery. Tunable, not load-bearing.
	DefaultAttempts = 3
	DefaultInterval = time.Second
)

// RequesterConfig tunes a discovery attempt. Zero values take defaults.
type RequesterConfig struct {
	Port     int
	Attempts int
	Interval time.Duration

	// Target overrides the computed subnet broadcast destination.
	Target *net.UDPAddr

	// Found receives the first structurally valid announcement, exactly
	// once per requester, from the receive goroutine.
	Found func(model.ServerAnnouncement)

	Logger *zerolog.Logger
}

// Requester broadcasts the sentinel request and listens for announcements.
// The send side stops after the configured attempts or as soon as a valid
// announcement arrives; the listen side stays open until Stop, since more
// hosts may still answer.
type Requester struct {
	cfg    RequesterConfig
	logger zerolog.Logger

	ch       *broadcast.Channel
	stopSend chan struct{}
	sendOnce sync.Once
	found    sync.Once
	wg       sync.WaitGroup
}

func NewRequester(cfg RequesterConfig) *Requester {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	return &Requester{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "discovery-requester").Logger(),
		stopSend: make(chan struct{}),
	}
}

// Start binds an ephemeral port and launches the send and receive loops.
// A bind failure is returned once and leaves the requester inert.
func (r *Requester) Start() error {
	ch, err := broadcast.Open(0)
	if err != nil {
		return err
	}
	r.ch = ch

	r.wg.Add(2)
	go r.sendLoop()
	go r.recvLoop()

	r.logger.Debug().Int("port", r.ch.LocalPort()).Msg("requester started")
	return nil
}

func (r *Requester) sendLoop() {
	defer r.wg.Done()

	token := []byte(RequestToken)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if err := r.send(token); err != nil {
			// Broadcast sends fail on some networks; the retry covers it.
			r.logger.Debug().Err(err).Int("attempt", attempt).Msg("broadcast send failed")
		}
		if attempt == r.cfg.Attempts {
			return
		}
		select {
		case <-r.stopSend:
			return
		case <-ticker.C:
		}
	}
}

func (r *Requester) send(token []byte) error {
	if r.cfg.Target != nil {
		return r.ch.SendTo(token, r.cfg.Target)
	}
	return r.ch.SendBroadcast(token, r.cfg.Port)
}

func (r *Requester) recvLoop() {
	defer r.wg.Done()

	buf := make([]byte, broadcast.MaxDatagramSize)
	for {
		n, sender, err := r.ch.Receive(buf)
		if err != nil {
			if !errors.Is(err, broadcast.ErrClosed) {
				r.logger.Error().Err(err).Msg("receive failed")
			}
			return
		}

		var ann model.ServerAnnouncement
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			r.logger.Debug().
				Err(err).
				Str("sender", sender.String()).
				Msg("dropping malformed announcement")
			continue
		}
		if ann.Port == 0 {
			r.logger.Debug().Str("sender", sender.String()).Msg("dropping announcement without port")
			continue
		}

		// At most one notification per discovery session. Duplicates from
		// retried requests or multiple hosts are expected redundancy.
		r.found.Do(func() {
			r.stopSending()
			r.logger.Info().
				Str("server", ann.ServerName).
				Str("addr", ann.Addr()).
				Msg("server found")
			r.cfg.Found(ann)
		})
	}
}

func (r *Requester) stopSending() {
	r.sendOnce.Do(func() {
		close(r.stopSend)
	})
}

// Stop ends both loops. The caller invokes it once a connection attempt
// begins. Idempotent.
func (r *Requester) Stop() {
	if r.ch == nil {
		return
	}
	r.stopSending()
	_ = r.ch.Close()
	r.wg.Wait()
	r.logger.Debug().Msg("requester stopped")
}
