package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

func (e *explorerSvc) SubscribeBlocks(ctx context.Context) (<-chan Block, error) {
	wsURL, err := deriveWsURL(e.baseUrl)
	if err != nil {
		return nil, err
	}
	conn, err := e.dialBlocks(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	ch := make(chan Block, blockBufferSize)
	go e.listenBlocks(ctx, wsURL, conn, ch)
	log.Debugf("explorer: listening for new blocks on %s", wsURL)
	return ch, nil
}

func (e *explorerSvc) dialBlocks(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}

	msg := wantMessage{Action: "want", Data: []string{"blocks"}}
	if err := conn.WriteJSON(msg); err != nil {
		// nolint
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe for blocks: %w", err)
	}
	return conn, nil
}

func (e *explorerSvc) listenBlocks(
	ctx context.Context, wsURL string, conn *websocket.Conn, ch chan Block,
) {
	defer close(ch)

	for {
		err := e.readBlocks(ctx, conn, ch)
		// nolint
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		if shouldExitReadLoop(err) {
			log.WithError(err).Debug("explorer: block feed closed, reconnecting")
		} else {
			log.WithError(err).Warn("explorer: block feed dropped, reconnecting")
		}

		conn, err = e.redialBlocks(ctx, wsURL)
		if err != nil {
			return
		}
	}
}

// redialBlocks retries until a connection is established or ctx is done.
func (e *explorerSvc) redialBlocks(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = e.reconnectDelay
	expBackoff.Multiplier = 2
	expBackoff.MaxInterval = time.Minute
	expBackoff.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotifyWithData(
		func() (*websocket.Conn, error) {
			attempt++
			conn, err := e.dialBlocks(ctx, wsURL)
			if err != nil && ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return conn, err
		},
		backoff.WithContext(expBackoff, ctx),
		func(err error, wait time.Duration) {
			log.WithError(err).Debugf(
				"explorer: attempt %d to reconnect block feed failed, retrying in %s",
				attempt, wait,
			)
		},
	)
}

// readBlocks forwards block notifications until the connection fails.
func (e *explorerSvc) readBlocks(
	ctx context.Context, conn *websocket.Conn, ch chan Block,
) error {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pongWait := (e.pingInterval * 10) / 9
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(e.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				// unblock the pending read
				// nolint
				conn.Close()
				return
			case <-ticker.C:
				deadline := time.Now().Add(10 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					log.WithError(err).Debug("explorer: failed to ping explorer")
					// nolint
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var payload blockNotification
		if err := json.Unmarshal(msg, &payload); err != nil {
			log.WithError(err).Debug("explorer: skipping unexpected ws message")
			continue
		}

		var info *blockInfo
		switch {
		case payload.Block != nil:
			info = payload.Block
		case len(payload.Blocks) > 0:
			info = &payload.Blocks[len(payload.Blocks)-1]
		default:
			continue
		}

		block := Block{
			Height:    info.Height,
			Hash:      info.Id,
			Timestamp: time.Unix(info.Timestamp, 0).UTC(),
		}
		select {
		case ch <- block:
		default:
			log.Debugf("explorer: dropped notification for block %d", block.Height)
		}
	}
}

// shouldExitReadLoop tells whether err means the connection is gone for
// good as opposed to a transient read failure.
func shouldExitReadLoop(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if isClosedOrTimeout(err) {
		return true
	}
	return false
}
