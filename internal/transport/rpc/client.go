// Package rpc talks to the game service over a websocket. Every request is
// a JSON envelope carrying a fresh id; the matching reply is validated and
// decoded by the protocol package.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roman-kulish/ingress-farmbot/internal/protocol"
)

var ErrNotAuthenticated = errors.New("rpc: handshake required")

// Credentials identify the player account at handshake time.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	AppInfo    string `json:"appInfo,omitempty"`
	DeviceInfo string `json:"deviceInfo,omitempty"`
}

type Config struct {
	URL         string
	Timeout     time.Duration
	Credentials Credentials
}

type envelope struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Token  string `json:"token,omitempty"`
	Body   any    `json:"body"`
}

type reply struct {
	ID    string          `json:"id"`
	Error string          `json:"error,omitempty"`
	Body  json.RawMessage `json:"body"`
}

type Client struct {
	cfg    Config
	conn   *websocket.Conn
	token  string
	logger *log.Logger
}

// Dial connects to cfg.URL. The client is not usable for Call until
// Handshake succeeds.
func Dial(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("rpc: empty url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, cfg.URL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return &Client{cfg: cfg, conn: conn, logger: logger}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// Handshake logs in and captures the session token for later calls.
func (c *Client) Handshake(ctx context.Context) (protocol.Handshake, error) {
	raw, err := c.roundTrip(ctx, protocol.ActionHandshake, c.cfg.Credentials)
	if err != nil {
		return protocol.Handshake{}, err
	}
	h, err := protocol.DecodeHandshake(raw)
	if err != nil {
		return protocol.Handshake{}, err
	}
	c.token = h.SessionToken
	return h, nil
}

// Call performs one game action.
func (c *Client) Call(ctx context.Context, action string, params protocol.Params) (protocol.Response, error) {
	if c.token == "" {
		return protocol.Response{}, ErrNotAuthenticated
	}
	raw, err := c.roundTrip(ctx, action, protocol.Request{Params: params})
	if err != nil {
		return protocol.Response{}, err
	}
	return protocol.DecodeResponse(raw)
}

func (c *Client) deadline(ctx context.Context) time.Time {
	dl := time.Now().Add(c.cfg.Timeout)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}

func (c *Client) roundTrip(ctx context.Context, action string, body any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	dl := c.deadline(ctx)

	_ = c.conn.SetWriteDeadline(dl)
	if err := c.conn.WriteJSON(envelope{ID: id, Action: action, Token: c.token, Body: body}); err != nil {
		return nil, fmt.Errorf("rpc: send %s: %w", action, err)
	}

	_ = c.conn.SetReadDeadline(dl)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("rpc: read %s: %w", action, err)
		}
		var r reply
		if err := json.Unmarshal(msg, &r); err != nil {
			return nil, fmt.Errorf("rpc: decode %s: %w", action, err)
		}
		if r.ID != id {
			// Late reply to an earlier request that already timed out.
			if c.logger != nil {
				c.logger.Printf("rpc: dropping reply %s while waiting for %s", r.ID, id)
			}
			continue
		}
		if r.Error != "" {
			return nil, fmt.Errorf("rpc: %s: %s", action, r.Error)
		}
		return r.Body, nil
	}
}
