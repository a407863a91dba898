// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the chat pages, and the built-in test page.
package server

import (
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"
)

// WebSocketHandler upgrades GET requests and serves the resulting session
// until it closes.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Info("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	s.hub.Serve(conn, r.RemoteAddr)
}

// HealthHandler reports liveness along with the current session count.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "relaychat is running (%d sessions)", s.hub.registry.Len())
}

// pageHandler serves one HTML file from the web directory.
func (s *Server) pageHandler(name string) http.HandlerFunc {
	path := filepath.Join(s.cfg.WebDir, name)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.ServeFile(w, r, path)
	}
}

// TestPageHandler serves an HTML page that speaks the relay protocol, for
// poking at a running server from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Debug("error writing test page", zap.Error(err))
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>relaychat protocol test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
            font-family: monospace;
        }
        input[type="text"] { width: 180px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>relaychat protocol test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userId" placeholder="user_id">
        <input type="text" id="username" placeholder="username">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div style="margin-top: 8px">
        <input type="text" id="receiverId" placeholder="receiver_id">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
        <button id="historyButton" onclick="requestHistory()" disabled>History</button>
    </div>

    <div id="events"></div>

    <script>
        let ws = null;
        const eventsDiv = document.getElementById('events');
        const statusDiv = document.getElementById('status');

        function log(line, color) {
            const el = document.createElement('div');
            el.style.color = color || 'gray';
            el.textContent = line;
            eventsDiv.appendChild(el);
            eventsDiv.scrollTop = eventsDiv.scrollHeight;
        }

        function setConnected(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            ['messageInput', 'sendButton', 'historyButton'].forEach(function (id) {
                document.getElementById(id).disabled = !connected;
            });
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function () {
                ws.send(JSON.stringify({
                    type: 'auth',
                    user_id: document.getElementById('userId').value.trim(),
                    username: document.getElementById('username').value.trim()
                }));
                setConnected(true);
            };
            ws.onmessage = function (event) { log('< ' + event.data, 'green'); };
            ws.onclose = function (event) {
                log('connection closed (' + event.code + ')');
                setConnected(false);
                ws = null;
            };
            ws.onerror = function () { log('connection error', 'red'); };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function send(frame) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                const raw = JSON.stringify(frame);
                ws.send(raw);
                log('> ' + raw, 'blue');
            }
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const content = input.value.trim();
            if (!content) { return; }
            send({ type: 'text', receiver_id: document.getElementById('receiverId').value.trim(), content: content });
            input.value = '';
        }

        function requestHistory() {
            send({ type: 'get_history', with_user_id: document.getElementById('receiverId').value.trim() });
        }

        document.getElementById('messageInput').addEventListener('keypress', function (e) {
            if (e.key === 'Enter') { sendMessage(); }
        });
    </script>
</body>
</html>`
