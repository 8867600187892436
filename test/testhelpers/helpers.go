// Package testhelpers provides shared utilities for the roomchat end-to-end
// tests: an in-process server backed by in-memory SQLite, WebSocket dial
// helpers and frame builders for the wire protocol.
package testhelpers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/room"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/store"
)

// TestOrigin is allowed by the default configuration.
const TestOrigin = "http://localhost:4200"

// App is a running server with its store.
type App struct {
	Server *server.Server
	Store  *store.SQLite
	HTTP   *httptest.Server
}

// WSURL returns the WebSocket endpoint of the test server.
func (a *App) WSURL() string {
	return "ws" + strings.TrimPrefix(a.HTTP.URL, "http") + "/ws"
}

// NewApp starts a server on an in-memory SQLite store. configure may adjust
// the defaults before the server is built. Everything is torn down with t.
func NewApp(t *testing.T, configure func(*server.Config)) *App {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	st, err := store.OpenSQLite(store.SQLiteOptions{Path: ":memory:", Quiet: true}, logger)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}

	cfg := server.NewConfig()
	if configure != nil {
		configure(cfg)
	}

	srv, err := server.New(cfg, st, logger)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	srv.Start()

	ts := httptest.NewServer(srv.Routes())
	app := &App{Server: srv, Store: st, HTTP: ts}

	t.Cleanup(func() {
		ts.Close()
		_ = srv.Shutdown(2 * time.Second)
		_ = st.Close()
	})
	return app
}

// SeedUser creates a user and returns its id.
func (a *App) SeedUser(t *testing.T, name string) int64 {
	t.Helper()
	u, err := a.Store.CreateUser(context.Background(), name, strings.ToLower(name)+".png")
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return u.ID
}

// SeedRoom creates a room and returns its id.
func (a *App) SeedRoom(t *testing.T, title string) int64 {
	t.Helper()
	r, err := a.Store.CreateRoom(context.Background(), title)
	if err != nil {
		t.Fatalf("Failed to seed room: %v", err)
	}
	return r.ID
}

// WaitForMembers polls until the room has n members or fails the test.
func (a *App) WaitForMembers(t *testing.T, roomID int64, n int) {
	t.Helper()
	WaitFor(t, 2*time.Second, func() bool {
		return len(a.Server.Registry().MembersOf(room.Key(roomID))) == n
	}, "room %d to have %d members", roomID, n)
}

// WaitForConnections polls until the hub holds n connections.
func (a *App) WaitForConnections(t *testing.T, n int) {
	t.Helper()
	WaitFor(t, 2*time.Second, func() bool {
		return a.Server.Hub().Count() == n
	}, "%d connections", n)
}

// WaitFor polls cond every 10ms until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for "+format, args...)
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	return resp
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// Dial connects to the app with the allowed origin and closes the
// connection with t.
func (a *App) Dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(a.WSURL(), TestOrigin)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// JoinFrame builds a join event.
func JoinFrame(userID, roomID int64) []byte {
	return mustJSON(map[string]any{
		"event": "join",
		"payload": map[string]any{
			"user":   map[string]any{"id": userID},
			"roomId": roomID,
		},
	})
}

// ChatFrame builds a chat message event.
func ChatFrame(userID, roomID int64, text string) []byte {
	return mustJSON(map[string]any{
		"event": "chat message",
		"payload": map[string]any{
			"user":   map[string]any{"id": userID},
			"roomId": roomID,
			"text":   text,
		},
	})
}

// Send writes a text frame.
func Send(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send frame: %v", err)
	}
}

// Frame is a decoded server frame.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the payload of a "server message" frame.
type ServerMessage struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`
	User struct {
		ID          int64  `json:"id"`
		DisplayName string `json:"displayName"`
		Picture     string `json:"picture"`
	} `json:"user"`
}

// ReadFrame reads one frame within timeout.
func ReadFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) Frame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("Frame %q is not JSON: %v", data, err)
	}
	return f
}

// ReadServerMessage reads one frame and requires it to be a server message.
func ReadServerMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) ServerMessage {
	t.Helper()
	f := ReadFrame(t, conn, timeout)
	if f.Event != "server message" {
		t.Fatalf("Expected server message, got %q: %s", f.Event, f.Payload)
	}
	var m ServerMessage
	if err := json.Unmarshal(f.Payload, &m); err != nil {
		t.Fatalf("Invalid server message payload: %v", err)
	}
	return m
}

// ExpectNoFrame fails if a frame arrives within wait.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("Expected no frame, got %s", data)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
