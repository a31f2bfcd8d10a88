package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lanlobby/lanlobby/model"
)

// receive reads frames off a websocket connection until the connection
// fails or ctx is canceled. Malformed frames are dropped and logged, never
// surfaced as connection errors.
func receive(ctx context.Context, conn *websocket.Conn, logger *zerolog.Logger, deliver func(model.Frame)) {
	conn.SetReadLimit(defaultMaxMessageSize)
	readDeadlineFunc := func(deadline time.Duration) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	}
	conn.SetPongHandler(func(string) error {
		return readDeadlineFunc(defaultPongWait)
	})
	if err := readDeadlineFunc(defaultPongWait); err != nil {
		logger.Error().Err(err).Msg("failed to set read deadline")
		return
	}

RecvLoop:
	for {
		select {
		case <-ctx.Done():
			break RecvLoop
		default:
			_, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway) {
					logger.Warn().Err(err).Msg("connection closed")
				} else if ctx.Err() == nil {
					logger.Error().Err(err).Msg("unexpected error during receive")
				}
				break RecvLoop
			}

			var f model.Frame
			if err = json.Unmarshal(msg, &f); err != nil {
				logger.Debug().Err(err).Msg("dropping malformed frame")
				continue
			}
			deliver(f)
		}
	}
}

// sender writes queued frames and keepalive pings until the connection
// fails or ctx is canceled. Per-connection frame order is the TX channel
// order.
func sender(ctx context.Context, conn *websocket.Conn, tx <-chan model.Frame, logger *zerolog.Logger) {
	pingTicker := time.NewTicker(defaultPingInterval)
	defer pingTicker.Stop()

SendLoop:
	for {
		select {
		case <-ctx.Done():
			break SendLoop

		case <-pingTicker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				logger.Error().Err(err).Msg("failed to set write deadline")
				break SendLoop
			}
			if err := conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				logger.Error().Err(err).Msg("failed to send ping")
				break SendLoop
			}

		case f, ok := <-tx:
			if !ok {
				break SendLoop
			}
			b, err := json.Marshal(&f)
			if err != nil {
				logger.Error().Err(err).Msg("failed to marshal outgoing frame")
				break SendLoop
			}
			if err = conn.SetWriteDeadline(time.Now().Add(defaultWriteDeadline)); err != nil {
				logger.Error().Err(err).Msg("failed to set write deadline")
				break SendLoop
			}
			if err = conn.WriteMessage(websocket.TextMessage, b); err != nil {
				logger.Error().Err(err).Msg("failed to write outgoing frame")
				break SendLoop
			}
		}
	}
}

// closeConn writes the close frame and tears the socket down. The connection
// supports a single writer, so this must not run while sender is alive.
func closeConn(conn *websocket.Conn, logger *zerolog.Logger) {
	err := conn.SetWriteDeadline(time.Now().Add(defaultCloseWriteDeadline))
	if err == nil {
		err = conn.WriteMessage(websocket.CloseMessage, []byte{})
	}
	if err != nil {
		logger.Debug().Err(err).Msg("failed to write close message")
	}
	if err = conn.Close(); err != nil {
		logger.Debug().Err(err).Msg("failed to close connection")
	}
}
