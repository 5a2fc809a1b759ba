// Package server exposes HTTP handlers, including WebSocket upgrades, health
// and readiness checks.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const readyTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the connection and hands it to the
// gateway, which starts the client's read/write pumps.
func (g *Gateway) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if _, ok := g.Connect(conn, r.RemoteAddr); !ok {
		log.Printf("Rejected connection from %s: server shutting down", r.RemoteAddr)
	}
}

// HealthHandler provides a simple liveness check.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Presence server is running!")
}

// ReadyHandler reports 200 when the directory store answers and 503 otherwise.
func (g *Gateway) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/plain")
	if err := g.Ready(ctx); err != nil {
		log.Printf("Readiness check failed: %v", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "directory store unavailable")
		return
	}
	_, _ = fmt.Fprintf(w, "ready")
}
