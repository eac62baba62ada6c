// Package gateway provides the chat-platform event feed. The client
// holds one WebSocket connection to the gateway, authenticates, and
// dispatches message lifecycle events (created, deleted) to a handler.
// It is consume-only: sending messages to the platform goes through
// the REST surface, not this connection.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wrenbot/wren/internal/events"
)

// Handler receives message lifecycle events from the gateway. The
// daemon's handler records creations in the ledger and routes
// deletions to the ledger and the activation reconciler.
type Handler interface {
	MessageCreated(channelID, messageID, authorID string)
	MessageDeleted(channelID, messageID string)
}

// frame is the gateway's wire format, both directions.
type frame struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	AuthorID  string `json:"authorId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Frame type constants.
const (
	frameIdentify       = "identify"
	frameReady          = "ready"
	framePing           = "ping"
	framePong           = "pong"
	frameMessageCreated = "message_created"
	frameMessageDeleted = "message_deleted"
)

// Client manages a WebSocket connection to the gateway.
type Client struct {
	baseURL string
	token   string
	handler Handler

	conn   *websocket.Conn
	connMu sync.Mutex

	logger *slog.Logger
	bus    *events.Bus
}

// NewClient creates a gateway client. bus may be nil (events are
// dropped).
func NewClient(baseURL, token string, handler Handler, logger *slog.Logger, bus *events.Bus) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		handler: handler,
		logger:  logger,
		bus:     bus,
	}
}

// Connect establishes the WebSocket connection and authenticates.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse gateway URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	c.logger.Info("connecting to gateway", "url", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}

	if err := conn.WriteJSON(frame{Type: frameIdentify, Token: c.token}); err != nil {
		conn.Close()
		return fmt.Errorf("send identify: %w", err)
	}

	var ready frame
	if err := conn.ReadJSON(&ready); err != nil {
		conn.Close()
		return fmt.Errorf("read ready: %w", err)
	}
	if ready.Type != frameReady {
		conn.Close()
		if ready.Error != "" {
			return fmt.Errorf("gateway rejected identify: %s", ready.Error)
		}
		return fmt.Errorf("unexpected frame %q before ready", ready.Type)
	}

	c.conn = conn
	c.logger.Info("gateway connection ready")
	return nil
}

// Listen reads and dispatches frames until the connection closes.
// A normal close returns nil; any other read failure is returned so
// the caller can decide whether to reconnect.
func (c *Client) Listen() error {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("listen on closed gateway client")
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("gateway closed normally")
				return nil
			}
			return fmt.Errorf("gateway read: %w", err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			// One malformed frame must not kill the connection.
			c.logger.Warn("skipping malformed gateway frame", "error", err)
			continue
		}
		c.dispatch(f)
	}
}

// dispatch routes one frame to the handler and the event bus.
func (c *Client) dispatch(f frame) {
	switch f.Type {
	case framePing:
		c.connMu.Lock()
		conn := c.conn
		if conn != nil {
			if err := conn.WriteJSON(frame{Type: framePong}); err != nil {
				c.logger.Warn("send pong", "error", err)
			}
		}
		c.connMu.Unlock()

	case frameMessageCreated:
		c.logger.Debug("message created",
			"channel_id", f.ChannelID, "message_id", f.MessageID, "author_id", f.AuthorID)
		c.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceGateway,
			Kind:      events.KindMessageObserved,
			Data: map[string]any{
				"channel_id": f.ChannelID,
				"message_id": f.MessageID,
				"author_id":  f.AuthorID,
			},
		})
		c.handler.MessageCreated(f.ChannelID, f.MessageID, f.AuthorID)

	case frameMessageDeleted:
		c.logger.Debug("message deleted",
			"channel_id", f.ChannelID, "message_id", f.MessageID)
		c.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceGateway,
			Kind:      events.KindMessageDeleted,
			Data: map[string]any{
				"channel_id": f.ChannelID,
				"message_id": f.MessageID,
			},
		})
		c.handler.MessageDeleted(f.ChannelID, f.MessageID)

	default:
		c.logger.Debug("ignoring unknown gateway frame", "type", f.Type)
	}
}

// Close closes the connection. Safe to call on an unconnected client.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// decodeFrame parses a raw gateway payload. Split out of the read
// loop for testability.
func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("decode gateway frame: %w", err)
	}
	return f, nil
}
