package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/presence/internal/backplane"
	"github.com/Tyrowin/presence/internal/directory"
)

const (
	testOriginURL = "http://localhost:8080"
	frameTimeout  = 2 * time.Second
	quietPeriod   = 150 * time.Millisecond
)

// resetConfig restores the default configuration when the test ends.
func resetConfig(t *testing.T) {
	t.Helper()
	t.Cleanup(func() { SetConfig(nil) })
}

// newTestGateway starts a gateway over store and bp and shuts it down when
// the test ends.
func newTestGateway(t *testing.T, nodeID string, store directory.Store, bp backplane.Backplane) *Gateway {
	t.Helper()

	cfg := *NewConfig()
	cfg.NodeID = nodeID
	gateway := NewGateway(cfg, directory.New(store), bp)
	if err := gateway.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start gateway %s: %v", nodeID, err)
	}
	t.Cleanup(func() { _ = gateway.Shutdown(time.Second) })
	return gateway
}

// newSingleGateway is a one-process deployment with in-memory collaborators.
func newSingleGateway(t *testing.T) (*Gateway, *directory.MemoryStore) {
	t.Helper()
	store := directory.NewMemoryStore()
	return newTestGateway(t, "node-a", store, backplane.NewLocal()), store
}

// connectFake registers a client without a socket; its outbound frames are
// read straight from the send channel.
func connectFake(t *testing.T, g *Gateway) *Client {
	t.Helper()
	client, ok := g.Connect(nil, "fake")
	if !ok {
		t.Fatal("Gateway refused connection")
	}
	return client
}

// disconnectFake runs the same teardown as a closing read pump.
func disconnectFake(g *Gateway, client *Client) {
	g.hub.Unregister(client)
	g.HandleDisconnect(client)
}

func send(t *testing.T, g *Gateway, client *Client, event string, data any) error {
	t.Helper()
	frame := Frame{Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("Failed to encode %s payload: %v", event, err)
		}
		frame.Data = raw
	}
	return g.HandleEvent(context.Background(), client, frame)
}

func mustSend(t *testing.T, g *Gateway, client *Client, event string, data any) {
	t.Helper()
	if err := send(t, g, client, event, data); err != nil {
		t.Fatalf("%s failed: %v", event, err)
	}
}

// waitForFrame reads frames from client until match accepts one.
func waitForFrame(t *testing.T, client *Client, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.After(frameTimeout)
	for {
		select {
		case raw, ok := <-client.GetSendChan():
			if !ok {
				t.Fatalf("Send channel of %s closed while waiting for frame", client.ID())
			}
			frame := mustDecodeFrame(t, raw)
			if match(frame) {
				return frame
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for frame on %s", client.ID())
		}
	}
}

// expectNoFrame fails if client receives a frame accepted by match within
// the quiet period.
func expectNoFrame(t *testing.T, client *Client, match func(Frame) bool) {
	t.Helper()
	deadline := time.After(quietPeriod)
	for {
		select {
		case raw, ok := <-client.GetSendChan():
			if !ok {
				return
			}
			frame := mustDecodeFrame(t, raw)
			if match(frame) {
				t.Fatalf("Unexpected %s frame on %s: %s", frame.Event, client.ID(), frame.Data)
			}
		case <-deadline:
			return
		}
	}
}

func mustDecodeFrame(t *testing.T, raw []byte) Frame {
	t.Helper()
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("Failed to decode frame %s: %v", raw, err)
	}
	return frame
}

func isEvent(event string) func(Frame) bool {
	return func(f Frame) bool { return f.Event == event }
}

func usersFrom(t *testing.T, frame Frame) []directory.Entry {
	t.Helper()
	var users []directory.Entry
	if err := json.Unmarshal(frame.Data, &users); err != nil {
		t.Fatalf("Failed to decode users:update %s: %v", frame.Data, err)
	}
	return users
}

func roomsFrom(t *testing.T, frame Frame) []RoomSummary {
	t.Helper()
	var rooms []RoomSummary
	if err := json.Unmarshal(frame.Data, &rooms); err != nil {
		t.Fatalf("Failed to decode rooms:update %s: %v", frame.Data, err)
	}
	return rooms
}

func messageFrom(t *testing.T, frame Frame) ReceivedMessage {
	t.Helper()
	var msg ReceivedMessage
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("Failed to decode message:receive %s: %v", frame.Data, err)
	}
	return msg
}

// usersUpdateWith matches a users:update whose snapshot satisfies pred.
func usersUpdateWith(t *testing.T, pred func([]directory.Entry) bool) func(Frame) bool {
	return func(f Frame) bool {
		return f.Event == EventUsersUpdate && pred(usersFrom(t, f))
	}
}

func hasUsername(name string) func([]directory.Entry) bool {
	return func(users []directory.Entry) bool {
		for _, u := range users {
			if u.Username == name && u.IsActive {
				return true
			}
		}
		return false
	}
}

func roomMessageFor(room string) func(Frame) bool {
	return func(f Frame) bool {
		if f.Event != EventMessageReceive {
			return false
		}
		var msg ReceivedMessage
		return json.Unmarshal(f.Data, &msg) == nil && msg.Room == room
	}
}

// startWebSocketServer serves the gateway's routes over httptest.
func startWebSocketServer(t *testing.T, g *Gateway) (*httptest.Server, string) {
	t.Helper()
	testServer := httptest.NewServer(SetupRoutes(g))
	t.Cleanup(testServer.Close)
	return testServer, "ws" + strings.TrimPrefix(testServer.URL, "http") + "/ws"
}

// dialWebSocket connects with an allowed Origin header.
func dialWebSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOriginURL)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to encode %s payload: %v", event, err)
	}
	if err := conn.WriteJSON(Frame{Event: event, Data: raw}); err != nil {
		t.Fatalf("Failed to write %s: %v", event, err)
	}
}

// readUntil reads frames from conn until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(Frame) bool) Frame {
	t.Helper()
	deadline := time.Now().Add(frameTimeout)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("Failed waiting for frame: %v", err)
		}
		if match(frame) {
			return frame
		}
	}
}

// expectNoWireFrame fails if conn receives a frame accepted by match within
// the quiet period.
func expectNoWireFrame(t *testing.T, conn *websocket.Conn, match func(Frame) bool) {
	t.Helper()
	deadline := time.Now().Add(quietPeriod)
	for {
		if err := conn.SetReadDeadline(deadline); err != nil {
			t.Fatalf("Failed to set read deadline: %v", err)
		}
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if match(frame) {
			t.Fatalf("Unexpected %s frame: %s", frame.Event, frame.Data)
		}
	}
}
