package integration

import (
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/test/testhelpers"
)

func TestGracefulShutdownWithClients(t *testing.T) {
	app := testhelpers.NewApp(t, nil)
	user := app.SeedUser(t, "Ada")
	roomID := app.SeedRoom(t, "general")

	const numClients = 5
	clients := make([]*websocket.Conn, numClients)
	for i := range clients {
		clients[i] = app.Dial(t)
		testhelpers.Send(t, clients[i], testhelpers.JoinFrame(user, roomID))
	}
	app.WaitForMembers(t, roomID, numClients)

	if err := app.Server.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if n := app.Server.Hub().Count(); n != 0 {
		t.Errorf("Expected no connections after shutdown, got %d", n)
	}
	if n := app.Server.Registry().Len(); n != 0 {
		t.Errorf("Expected no rooms after shutdown, got %d", n)
	}

	var wg sync.WaitGroup
	for i, conn := range clients {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Errorf("Client %d: expected connection to be closed", i)
			}
		}(i, conn)
	}
	wg.Wait()
}

func TestShutdownWithActiveMessages(t *testing.T) {
	app := testhelpers.NewApp(t, nil)
	user := app.SeedUser(t, "Ada")
	roomID := app.SeedRoom(t, "general")

	sender := app.Dial(t)
	receiver := app.Dial(t)
	testhelpers.Send(t, sender, testhelpers.JoinFrame(user, roomID))
	testhelpers.Send(t, receiver, testhelpers.JoinFrame(user, roomID))
	app.WaitForMembers(t, roomID, 2)

	go func() {
		for i := 0; i < 8; i++ {
			if err := sender.WriteMessage(websocket.TextMessage, testhelpers.ChatFrame(user, roomID, "busy")); err != nil {
				return
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- app.Server.Shutdown(5 * time.Second) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("Shutdown did not complete")
	}
}

func TestConcurrentShutdown(t *testing.T) {
	app := testhelpers.NewApp(t, nil)
	app.Dial(t)
	app.WaitForConnections(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.Server.Shutdown(5 * time.Second); err != nil {
				t.Errorf("Shutdown failed: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestNoClientsShutdown(t *testing.T) {
	app := testhelpers.NewApp(t, nil)

	start := time.Now()
	if err := app.Server.Shutdown(5 * time.Second); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Shutdown with no clients took %s", elapsed)
	}
}
