package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Tyrowin/roomchat/internal/store"
)

// errorBody is the JSON returned by the read routes on failure.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthBody struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// WebSocketHandler validates that the request uses the GET method, upgrades
// it and hands the socket to the hub, which starts the pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws.upgrade_failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	if _, err := s.hub.Accept(ws, r.RemoteAddr); err != nil {
		s.log.Warn("ws.accept_failed", "addr", r.RemoteAddr, "err", err)
		_ = ws.Close()
	}
}

// HealthHandler responds with a plain text message indicating the server is running.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}

// HealthzHandler reports store reachability and live counts as JSON.
func (s *Server) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Status:      "ok",
		Connections: s.hub.Count(),
		Rooms:       s.registry.Len(),
	}
	status := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Warn("health.store_unreachable", "err", err)
		body.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, body)
}

// ListRoomsHandler returns every room with its latest message.
func (s *Server) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.log.Error("rooms.list_failed", "request_id", requestIDFrom(r.Context()), "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "could not list rooms"})
		return
	}
	s.writeJSON(w, http.StatusOK, rooms)
}

// RoomHistoryHandler returns one room with its full message history.
func (s *Server) RoomHistoryHandler(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.PathValue("roomId"), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: "roomId must be an integer"})
		return
	}

	room, err := s.store.GetRoomHistory(r.Context(), roomID)
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: "room not found"})
		return
	case err != nil:
		s.log.Error("rooms.history_failed", "room", roomID, "request_id", requestIDFrom(r.Context()), "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "could not load room"})
		return
	}
	s.writeJSON(w, http.StatusOK, room)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("http.write_failed", "err", err)
	}
}

// TestPageHandler serves an HTML page that joins a room and posts messages
// over the WebSocket endpoint.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Warn("http.write_failed", "err", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>roomchat WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="number"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>roomchat WebSocket Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <label>User id <input type="number" id="userId" value="1"></label>
        <label>Room id <input type="number" id="roomId" value="1"></label>
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
    </div>
    <div style="margin-top: 10px">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const joinButton = document.getElementById('joinButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function userId() { return Number(document.getElementById('userId').value); }
        function roomId() { return Number(document.getElementById('roomId').value); }

        function addMessage(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            joinButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function send(event, payload) {
            ws.send(JSON.stringify({ event: event, payload: payload }));
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addMessage('Connected to roomchat server');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                const frame = JSON.parse(event.data);
                if (frame.event === 'server message') {
                    addMessage(frame.payload.user.displayName + ': ' + frame.payload.text, 'green');
                } else if (frame.event === 'error') {
                    addMessage('Error: ' + frame.payload.message, 'red');
                }
            };

            ws.onclose = function() {
                addMessage('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addMessage('Connection error');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                send('disconnect', {});
            } else {
                connect();
            }
        }

        function joinRoom() {
            send('join', { user: { id: userId() }, roomId: roomId() });
            addMessage('Joined channel' + roomId());
        }

        function sendMessage() {
            const text = messageInput.value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                send('chat message', { user: { id: userId() }, roomId: roomId(), text: text });
                addMessage('You: ' + text, 'blue');
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
