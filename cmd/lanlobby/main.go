package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/lanlobby/lanlobby/broadcast"
	"github.com/lanlobby/lanlobby/discovery"
	"github.com/lanlobby/lanlobby/dispatch"
	"github.com/lanlobby/lanlobby/model"
	"github.com/lanlobby/lanlobby/session"
	"github.com/lanlobby/lanlobby/transport"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	fs := pflag.NewFlagSet("main", pflag.ContinueOnError)

	var (
		hostMode      = fs.BoolP("host", "H", false, "host a session instead of joining one")
		listenPort    = fs.Uint16P("listen-port", "p", 7777, "session listen port (host mode)")
		discoveryPort = fs.IntP("discovery-port", "d", discovery.DefaultPort, "udp discovery port")
		serverName    = fs.StringP("server-name", "n", "Local Game", "name announced to joining peers")
		maxMessages   = fs.IntP("max-messages", "m", 25, "visible chat history limit")
		logLevel      = fs.StringP("log-level", "l", "info", "log level")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.Fatal().Err(err).Msg("failed to parse command line arguments")
	}

	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse loglevel")
	}
	logger = logger.Level(lvl)

	queue := dispatch.New()

	mgr := session.NewManager(session.Config{
		Logger:      &logger,
		Queue:       queue,
		OnEvent:     printEvent,
		ServerName:  *serverName,
		AnnounceIP:  broadcast.LocalIPv4().String(),
		MaxMessages: *maxMessages,
		NewHost: func(ev transport.HostEvents) session.HostTransport {
			return transport.NewHost(transport.HostConfig{
				Logger:     &logger,
				Events:     ev,
				ListenAddr: fmt.Sprintf(":%d", *listenPort),
			})
		},
		Dial: func(ctx context.Context, addr string, ev transport.ClientEvents) (session.ClientTransport, error) {
			return transport.Dial(ctx, addr, ev, &logger)
		},
		NewResponder: func(ann model.ServerAnnouncement) session.Announcer {
			return discovery.NewResponder(*discoveryPort, ann, &logger)
		},
		NewRequester: func(found func(model.ServerAnnouncement)) session.Finder {
			return discovery.NewRequester(discovery.RequesterConfig{
				Port:   *discoveryPort,
				Found:  found,
				Logger: &logger,
			})
		},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()

	if *hostMode {
		mgr.StartHosting()
	} else {
		mgr.StartDiscovery()
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if text := scanner.Text(); text != "" {
				mgr.Submit(text)
			}
		}
	}()

	<-ctx.Done()
	logger.Warn().Msg("interrupted")
	<-done
}

func printEvent(ev session.Event) {
	switch ev.Type {
	case session.EventMessage:
		fmt.Printf("%s: %s\n", ev.Message.SenderName, ev.Message.Text)
	case session.EventPeerJoined:
		fmt.Printf("* %s joined\n", ev.Peer.DisplayName)
	case session.EventPeerLeft:
		fmt.Printf("* %s left\n", ev.Peer.DisplayName)
	case session.EventRoleChanged:
		fmt.Printf("* session %s\n", ev.Role)
	case session.EventHostStartFailed, session.EventDiscoveryStartFailed, session.EventConnectFailed:
		fmt.Printf("* failed: %v\n", ev.Err)
	}
}
