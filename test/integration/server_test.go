package integration

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"testing"

	"github.com/Tyrowin/roomchat/test/testhelpers"
)

func TestHealthEndpointIntegration(t *testing.T) {
	app := testhelpers.NewApp(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, app.HTTP.URL+"/")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "roomchat server is running!" {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestHealthzReportsCounts(t *testing.T) {
	app := testhelpers.NewApp(t, nil)
	user := app.SeedUser(t, "Ada")
	roomID := app.SeedRoom(t, "general")

	conn := app.Dial(t)
	testhelpers.Send(t, conn, testhelpers.JoinFrame(user, roomID))
	app.WaitForMembers(t, roomID, 1)

	resp := testhelpers.MakeRequest(t, http.MethodGet, app.HTTP.URL+"/healthz")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Connections != 1 || body.Rooms != 1 {
		t.Errorf("Unexpected health: %+v", body)
	}
}

func TestChatHistoryIsReadable(t *testing.T) {
	app := testhelpers.NewApp(t, nil)
	ada := app.SeedUser(t, "Ada")
	bob := app.SeedUser(t, "Bob")
	roomID := app.SeedRoom(t, "general")
	app.SeedRoom(t, "empty")

	a := app.Dial(t)
	b := app.Dial(t)
	testhelpers.Send(t, a, testhelpers.JoinFrame(ada, roomID))
	testhelpers.Send(t, b, testhelpers.JoinFrame(bob, roomID))
	app.WaitForMembers(t, roomID, 2)

	testhelpers.Send(t, a, testhelpers.ChatFrame(ada, roomID, "first"))
	testhelpers.ReadServerMessage(t, b, readTimeout)
	testhelpers.Send(t, b, testhelpers.ChatFrame(bob, roomID, "second"))
	testhelpers.ReadServerMessage(t, a, readTimeout)

	resp := testhelpers.MakeRequest(t, http.MethodGet, fmt.Sprintf("%s/rooms/%d", app.HTTP.URL, roomID))
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "application/json")

	var room struct {
		Title    string `json:"title"`
		Messages []struct {
			Text string `json:"text"`
			User struct {
				DisplayName string `json:"displayName"`
			} `json:"user"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatal(err)
	}
	if room.Title != "general" || len(room.Messages) != 2 {
		t.Fatalf("Unexpected room: %+v", room)
	}
	if room.Messages[0].Text != "first" || room.Messages[0].User.DisplayName != "Ada" {
		t.Errorf("Unexpected first message: %+v", room.Messages[0])
	}
	if room.Messages[1].Text != "second" || room.Messages[1].User.DisplayName != "Bob" {
		t.Errorf("Unexpected second message: %+v", room.Messages[1])
	}

	list := testhelpers.MakeRequest(t, http.MethodGet, app.HTTP.URL+"/rooms")
	defer func() { _ = list.Body.Close() }()
	testhelpers.AssertStatusCode(t, list, http.StatusOK)

	var rooms []struct {
		Title   string `json:"title"`
		Message *struct {
			Text string `json:"text"`
		} `json:"message"`
	}
	if err := json.NewDecoder(list.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("Expected 2 rooms, got %d", len(rooms))
	}
	if rooms[0].Message == nil || rooms[0].Message.Text != "second" {
		t.Errorf("Expected latest message on general, got %+v", rooms[0].Message)
	}
	if rooms[1].Message != nil {
		t.Errorf("Expected no message on empty room, got %+v", rooms[1].Message)
	}
}

func TestUnknownRoomIs404(t *testing.T) {
	app := testhelpers.NewApp(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, app.HTTP.URL+"/rooms/42")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusNotFound)
}

func TestWebSocketEndpointRejectsPlainHTTP(t *testing.T) {
	app := testhelpers.NewApp(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodPost, app.HTTP.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)

	get := testhelpers.MakeRequest(t, http.MethodGet, app.HTTP.URL+"/ws")
	defer func() { _ = get.Body.Close() }()
	testhelpers.AssertStatusCode(t, get, http.StatusBadRequest)
}

func TestMetricsCountTraffic(t *testing.T) {
	app := testhelpers.NewApp(t, nil)
	user := app.SeedUser(t, "Ada")
	roomID := app.SeedRoom(t, "general")

	a := app.Dial(t)
	b := app.Dial(t)
	testhelpers.Send(t, a, testhelpers.JoinFrame(user, roomID))
	testhelpers.Send(t, b, testhelpers.JoinFrame(user, roomID))
	app.WaitForMembers(t, roomID, 2)
	testhelpers.Send(t, a, testhelpers.ChatFrame(user, roomID, "counted"))
	testhelpers.ReadServerMessage(t, b, readTimeout)

	want := []string{
		"roomchat_connections_active 2",
		"roomchat_rooms_active 1",
		"roomchat_messages_persisted_total 1",
		`roomchat_deliveries_total{result="sent"} 1`,
	}
	testhelpers.WaitFor(t, readTimeout, func() bool {
		lines := strings.Split(scrape(t, app.HTTP.URL+"/metrics"), "\n")
		for _, w := range want {
			if !slices.Contains(lines, w) {
				return false
			}
		}
		return true
	}, "metrics %v", want)
}

func scrape(t *testing.T, url string) string {
	t.Helper()
	resp := testhelpers.MakeRequest(t, http.MethodGet, url)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}
