package push

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/log"
	"github.com/gorilla/websocket"
)

const streamHandshakeTimeout = 10 * time.Second

// StreamTransport implements Transport over a persistent WebSocket. The
// server pushes envelopes of the event taxonomy (including periodic
// snapshots) instead of the client polling for them.
type StreamTransport struct {
	serverURL string
	clientID  string
	updates   chan Envelope
	conn      *websocket.Conn
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewStreamTransport creates a WebSocket stream transport. serverURL is
// the ws:// or wss:// base of the game server.
func NewStreamTransport(serverURL, clientID string) *StreamTransport {
	return &StreamTransport{
		serverURL: serverURL,
		clientID:  clientID,
		updates:   make(chan Envelope, 16),
	}
}

func (t *StreamTransport) Start(ctx context.Context, roomID string) error {
	endpoint := fmt.Sprintf("%s/push/stream?clientId=%s&roomId=%s",
		t.serverURL, url.QueryEscape(t.clientID), url.QueryEscape(roomID))

	dialer := websocket.Dialer{HandshakeTimeout: streamHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push stream: %w", err)
	}
	t.conn = conn

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.updates)
		for {
			var envelope Envelope
			if err := conn.ReadJSON(&envelope); err != nil {
				if ctx.Err() == nil {
					log.Warn("Push stream read failed: %v", err)
				}
				return
			}
			select {
			case t.updates <- envelope:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (t *StreamTransport) Updates() <-chan Envelope {
	return t.updates
}

func (t *StreamTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		if t.conn != nil {
			t.conn.Close()
		}
		t.wg.Wait()
	})
	return nil
}
