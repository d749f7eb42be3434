// SPDX-License-Identifier: AGPL-3.0-or-later

package adminhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/USA-RedDragon/fulcrum/internal/registry"
	"github.com/gorilla/websocket"
)

const (
	broadcastInterval = 2 * time.Second
	wsBufferSize      = 4096
)

// hub pushes a directory/slot snapshot to every connected dashboard client
// on a fixed interval, the read-only equivalent of the teacher's
// subscription-fanout websocket handlers.
type hub struct {
	svc      *registry.Service
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	done    chan struct{}
}

type directorySnapshotMessage struct {
	Directory []directoryEntryView `json:"directory"`
	Slots     []slotFamilyView     `json:"slots"`
}

func newHub(svc *registry.Service) *hub {
	return &hub{
		svc:     svc,
		clients: make(map[*websocket.Conn]struct{}),
		done:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("adminhttp: failed upgrading websocket connection", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	h.sendSnapshot(conn)

	// Drain reads so the connection notices client-initiated closes; the
	// dashboard has nothing to send us besides the occasional PING.
	for {
		_, msg, readErr := conn.ReadMessage()
		if readErr != nil {
			break
		}
		if string(msg) == "PING" {
			if writeErr := conn.WriteMessage(websocket.TextMessage, []byte("PONG")); writeErr != nil {
				break
			}
		}
	}

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *hub) sendSnapshot(conn *websocket.Conn) {
	msg := directorySnapshotMessage{
		Directory: directorySnapshot(h.svc),
		Slots:     slotsSnapshot(h.svc),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("adminhttp: failed encoding directory snapshot", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		slog.Warn("adminhttp: failed pushing snapshot to client", "error", err)
	}
}

// run broadcasts a fresh snapshot to every connected client on
// broadcastInterval until stop is called.
func (h *hub) run() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.broadcast()
		}
	}
}

func (h *hub) broadcast() {
	msg := directorySnapshotMessage{
		Directory: directorySnapshot(h.svc),
		Slots:     slotsSnapshot(h.svc),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("adminhttp: failed encoding directory snapshot", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			slog.Warn("adminhttp: dropping unresponsive websocket client", "error", err)
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

func (h *hub) stop() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.Close()
		delete(h.clients, conn)
	}
}
