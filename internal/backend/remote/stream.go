package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/models"
)

// SubscribeInserts implements backend.Backend. It returns once the first
// handshake has settled, so the relay is already publishing to this stream
// when the caller fetches history. The stream reconnects until cancelled,
// resuming after the last delivered message id.
func (c *Client) SubscribeInserts(identity string) (<-chan models.Message, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan models.Message, 64)
	done := make(chan struct{})
	ready := make(chan struct{})
	var once sync.Once
	markReady := func() { once.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		defer close(out)
		defer markReady()
		c.streamLoop(ctx, models.NormalizeIdentity(identity), out, markReady)
	}()
	<-ready

	return out, func() {
		cancel()
		<-done
	}
}

// streamLoop calls connected after the first dial attempt, whether or not it
// succeeded.
func (c *Client) streamLoop(ctx context.Context, identity string, out chan<- models.Message, connected func()) {
	logger := c.logger.With().Str("identity", identity).Logger()
	lastID := ""
	refreshed := false
	for {
		if ctx.Err() != nil {
			return
		}
		current := c.current()
		if current == nil || models.NormalizeIdentity(current.Identity) != identity {
			logger.Debug().Msg("stream stopped, identity no longer active")
			return
		}

		conn, resp, err := c.dialStream(ctx, current.AccessToken, lastID)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized && !refreshed {
				refreshed = true
				// The handshake body is not decoded; try a refresh either way.
				if _, rerr := c.renew(ctx, current, true); rerr != nil {
					if errors.Is(rerr, backend.ErrNotAuthenticated) {
						return
					}
					if !sleepCtx(ctx, c.reconnectDelay) {
						return
					}
				}
				continue
			}
			logger.Debug().Err(err).Msg("stream dial failed")
			refreshed = false
			connected()
			if !sleepCtx(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		refreshed = false
		connected()
		lastID = c.readStream(ctx, conn, identity, lastID, out)
		if !sleepCtx(ctx, c.reconnectDelay) {
			return
		}
	}
}

func (c *Client) dialStream(ctx context.Context, token, since string) (*websocket.Conn, *http.Response, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/v1/messages/stream"
	if since != "" {
		u.RawQuery = url.Values{"since": []string{since}}.Encode()
	}
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	return c.dialer.DialContext(ctx, u.String(), header)
}

// readStream forwards frames until the connection drops or ctx ends, and
// returns the last forwarded id.
func (c *Client) readStream(ctx context.Context, conn *websocket.Conn, identity, lastID string, out chan<- models.Message) string {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("stream disconnected")
			}
			return lastID
		}
		var msg models.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed stream frame")
			continue
		}
		if models.NormalizeIdentity(msg.OwnerIdentity) != identity {
			continue
		}
		select {
		case out <- msg:
			lastID = msg.ID
		case <-ctx.Done():
			return lastID
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
