package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/ingress-farmbot/internal/protocol"
)

const handshakeBody = `{"result": {
  "xsrfToken": "tok-1",
  "nickname": "farmer",
  "pregameStatus": {"action": "NO_ACTIONS_REQUIRED"},
  "playerEntity": ["p.1", "1", {"controllingTeam": {"team": "ALIENS"}, "playerPersonal": {"ap": 100, "energy": 1500}}],
  "initialKnobs": {"bundleMap": {
    "ScannerKnobs": {"updateIntervalMs": 30000, "updateDistanceM": 50, "rangeM": 300},
    "InventoryKnobs": {"maxInventoryItems": 2000}
  }}
}}`

type inbound struct {
	ID     string          `json:"id"`
	Action string          `json:"action"`
	Token  string          `json:"token"`
	Body   json.RawMessage `json:"body"`
}

// fakeServer answers handshake and hack requests. Before each hack reply it
// sends a stale reply with an unrelated id.
func fakeServer(t *testing.T, got chan<- inbound) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var in inbound
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			got <- in
			switch in.Action {
			case protocol.ActionHandshake:
				_ = conn.WriteJSON(map[string]any{"id": in.ID, "body": json.RawMessage(handshakeBody)})
			case protocol.ActionHack:
				_ = conn.WriteJSON(map[string]any{"id": "stale", "body": json.RawMessage(`{}`)})
				_ = conn.WriteJSON(map[string]any{"id": in.ID, "body": json.RawMessage(`{"error": "TOO_OFTEN", "gameBasket": {"energyGlobGuids": ["g1"]}}`)})
			default:
				_ = conn.WriteJSON(map[string]any{"id": in.ID, "error": "unsupported"})
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestClient_HandshakeAndCall(t *testing.T) {
	got := make(chan inbound, 8)
	srv := fakeServer(t, got)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, Config{URL: wsURL(srv), Timeout: 2 * time.Second, Credentials: Credentials{Username: "u", Password: "p"}}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if _, err := c.Call(ctx, protocol.ActionHack, protocol.Params{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("call before handshake: %v", err)
	}

	h, err := c.Handshake(ctx)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if h.SessionToken != "tok-1" || h.Tuning.ScannerRange != 300 {
		t.Fatalf("handshake=%+v", h)
	}
	hs := <-got
	var creds Credentials
	if err := json.Unmarshal(hs.Body, &creds); err != nil || creds.Username != "u" || creds.Password != "p" {
		t.Fatalf("credentials=%s err=%v", hs.Body, err)
	}
	if hs.ID == "" || hs.Token != "" {
		t.Fatalf("handshake envelope=%+v", hs)
	}

	resp, err := c.Call(ctx, protocol.ActionHack, protocol.Params{ItemGUID: "t1", EnergyGlobGuids: []string{"g0"}})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if resp.ActionError() != protocol.ActionTooOften || len(resp.GameBasket.EnergyGlobGuids) != 1 {
		t.Fatalf("resp=%+v", resp)
	}
	call := <-got
	if call.Token != "tok-1" || call.ID == hs.ID {
		t.Fatalf("call envelope=%+v", call)
	}
	var req protocol.Request
	if err := json.Unmarshal(call.Body, &req); err != nil {
		t.Fatalf("body: %v", err)
	}
	if req.Params.ItemGUID != "t1" || len(req.Params.EnergyGlobGuids) != 1 {
		t.Fatalf("params=%+v", req.Params)
	}
}

func TestClient_ServerError(t *testing.T) {
	got := make(chan inbound, 8)
	srv := fakeServer(t, got)
	defer srv.Close()

	ctx := context.Background()
	c, err := Dial(ctx, Config{URL: wsURL(srv), Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Handshake(ctx); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if _, err := c.Call(ctx, protocol.ActionGetInventory, protocol.Params{}); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("err=%v", err)
	}
}

func TestDial_EmptyURL(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected error")
	}
}
