package tui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Fabio-IIT/RoadTest-GridEye/internal/thermal/processor"
)

// readLimit covers a 256x256 display record with its colours.
const readLimit = 8 << 20

// Client is a websocket connection to a node's /ws endpoint.
type Client struct {
	conn *websocket.Conn
}

// WebsocketURL turns a node address ("host:port" or an http(s) URL) into
// its /ws URL.
func WebsocketURL(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("parse node address: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("node address %q has no host", addr)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Dial connects to the node at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	wsURL, err := WebsocketURL(addr)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	conn.SetReadLimit(readLimit)
	return &Client{conn: conn}, nil
}

// Send writes one command.
func (c *Client) Send(ctx context.Context, m processor.Message) error {
	return wsjson.Write(ctx, c.conn, m)
}

// Run forwards node messages to p until the connection ends, then sends a
// DisconnectedMsg.
func (c *Client) Run(ctx context.Context, p *tea.Program) {
	err := c.forward(ctx, p.Send)
	p.Send(DisconnectedMsg{Err: err})
}

func (c *Client) forward(ctx context.Context, send func(tea.Msg)) error {
	for {
		_, b, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		msg, err := decode(b)
		if err != nil {
			log.Printf("[ws] ignoring message: %v", err)
			continue
		}
		send(msg)
	}
}

func decode(b []byte) (tea.Msg, error) {
	var m processor.Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m.IsFrame() {
		rec, err := processor.DecodeRecord(b)
		if err != nil {
			return nil, err
		}
		return FrameMsg{Record: rec}, nil
	}
	return EventMsg{Message: m}, nil
}

// Close ends the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "viewer closed")
}
