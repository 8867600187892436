package integration

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/test/testhelpers"
)

func TestOriginValidation(t *testing.T) {
	app := testhelpers.NewApp(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"http://localhost:4200", "https://chat.example"}
	})

	tests := []struct {
		name      string
		origin    string
		wantAllow bool
	}{
		{name: "allowed origin", origin: "http://localhost:4200", wantAllow: true},
		{name: "case insensitive", origin: "HTTPS://CHAT.EXAMPLE", wantAllow: true},
		{name: "different port", origin: "http://localhost:9999", wantAllow: false},
		{name: "different scheme", origin: "https://localhost:4200", wantAllow: false},
		{name: "foreign origin", origin: "http://evil.example", wantAllow: false},
		{name: "missing origin", origin: "", wantAllow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := testhelpers.ConnectWebSocket(app.WSURL(), tt.origin)
			if tt.wantAllow {
				if err != nil {
					t.Fatalf("Expected connection to succeed: %v", err)
				}
				_ = conn.Close()
				return
			}
			if err == nil {
				_ = conn.Close()
				t.Fatal("Expected connection to be rejected")
			}
			if resp == nil || resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected 403 response, got %v", resp)
			}
		})
	}
}

func TestWildcardOrigin(t *testing.T) {
	app := testhelpers.NewApp(t, func(cfg *server.Config) {
		cfg.AllowedOrigins = []string{"*"}
	})

	conn, _, err := testhelpers.ConnectWebSocket(app.WSURL(), "https://anywhere.example")
	if err != nil {
		t.Fatalf("Expected wildcard to allow connection: %v", err)
	}
	_ = conn.Close()
}

func TestMessageSizeLimit(t *testing.T) {
	app := testhelpers.NewApp(t, func(cfg *server.Config) {
		cfg.MaxMessageSize = 256
	})
	user := app.SeedUser(t, "Ada")
	roomID := app.SeedRoom(t, "general")

	small := app.Dial(t)
	testhelpers.Send(t, small, testhelpers.JoinFrame(user, roomID))
	app.WaitForMembers(t, roomID, 1)

	big := app.Dial(t)
	app.WaitForConnections(t, 2)
	testhelpers.Send(t, big, testhelpers.ChatFrame(user, roomID, strings.Repeat("x", 1024)))

	_ = big.SetReadDeadline(time.Now().Add(readTimeout))
	if _, _, err := big.ReadMessage(); err == nil {
		t.Error("Expected oversized frame to close the connection")
	}
	app.WaitForConnections(t, 1)

	testhelpers.ExpectNoFrame(t, small, quietPeriod)
}

func TestRateLimiting(t *testing.T) {
	app := testhelpers.NewApp(t, func(cfg *server.Config) {
		cfg.RateLimit = server.RateLimitConfig{Burst: 3, RefillInterval: time.Hour}
	})
	user := app.SeedUser(t, "Ada")
	roomID := app.SeedRoom(t, "general")

	receiver := app.Dial(t)
	testhelpers.Send(t, receiver, testhelpers.JoinFrame(user, roomID))
	spammer := app.Dial(t)
	testhelpers.Send(t, spammer, testhelpers.JoinFrame(user, roomID))
	app.WaitForMembers(t, roomID, 2)

	// The join used one token.
	for i := 0; i < 6; i++ {
		testhelpers.Send(t, spammer, testhelpers.ChatFrame(user, roomID, "spam"))
	}

	received := 0
	for {
		_ = receiver.SetReadDeadline(time.Now().Add(quietPeriod * 2))
		if _, _, err := receiver.ReadMessage(); err != nil {
			break
		}
		received++
	}
	if received != 2 {
		t.Errorf("Expected 2 messages through the rate limiter, got %d", received)
	}

	// Dropped frames do not close the connection.
	if app.Server.Hub().Count() != 2 {
		t.Errorf("Expected both connections to stay open, got %d", app.Server.Hub().Count())
	}
}

func TestBinaryFrameIgnored(t *testing.T) {
	app := testhelpers.NewApp(t, nil)

	conn := app.Dial(t)
	app.WaitForConnections(t, 1)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte(`{"event":"join"}`)); err != nil {
		t.Fatal(err)
	}

	testhelpers.ExpectNoFrame(t, conn, quietPeriod)
	if app.Server.Hub().Count() != 1 {
		t.Error("Expected connection to stay open after binary frame")
	}
	if app.Server.Registry().Len() != 0 {
		t.Error("Expected binary frame to be ignored")
	}
}
