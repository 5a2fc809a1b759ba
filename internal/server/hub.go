// Package server tracks this process's live connections and local room
// groups, and delivers backplane envelopes to them via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/presence/internal/backplane"
)

// Hub is the connection registry of one process. It is the only component
// that knows which sockets are live here and which local room groups they
// are subscribed to. Registration, unregistration and delivery run on the
// Run goroutine; lookups and room subscription are mutex protected.
type Hub struct {
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	register   chan *Client
	unregister chan *Client
	deliver    chan backplane.Envelope
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and maps. The returned Hub is ready to manage WebSocket connections.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan backplane.Envelope, 256),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a new client to the Run loop, which starts its pumps. It
// returns once the client is in the registry, or false if the hub stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		log.Printf("Hub stopped; refusing client from %s", client.addr)
		if client.conn != nil {
			_ = client.conn.Close()
		}
		return false
	}

	select {
	case <-client.registered:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client. Safe to call after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
		h.detach(client)
	}
}

// Deliver queues an envelope received from the backplane.
func (h *Hub) Deliver(env backplane.Envelope) {
	select {
	case h.deliver <- env:
	case <-h.ctx.Done():
	}
}

// Run starts the hub's main event loop. Call it in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.attach(client)
			h.startPumps(client)

		case client := <-h.unregister:
			h.detach(client)

		case env := <-h.deliver:
			h.handleDelivery(env)
		}
	}
}

func (h *Hub) startPumps(client *Client) {
	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// attach adds client to the registry.
func (h *Hub) attach(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()
	close(client.registered)
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, clientCount)
}

// detach removes client from the registry and from every local room group,
// then closes its send channel. Detaching twice is a no-op.
func (h *Hub) detach(client *Client) {
	h.mutex.Lock()
	if registered, ok := h.clients[client.id]; !ok || registered != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	for room, members := range h.rooms {
		delete(members, client.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	close(client.send)
	log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, clientCount)
}

// Subscribe adds the connection to the local group for room. It reports
// false if the connection is not registered here.
func (h *Hub) Subscribe(connID, room string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[connID] = client
	return true
}

// RoomSize returns the number of local connections subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[room])
}

// Lookup returns the local client for connID.
func (h *Hub) Lookup(connID string) (*Client, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	client, ok := h.clients[connID]
	return client, ok
}

// ClientCount returns the number of live connections on this process.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent races with detach.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	registered, exists := h.clients[client.id]
	if !exists || registered != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// handleDelivery resolves the local targets of env and sends its frame.
func (h *Hub) handleDelivery(env backplane.Envelope) {
	targets := h.targets(env)
	if len(targets) == 0 {
		return
	}

	var clientsToRemove []*Client
	for _, client := range targets {
		if !h.safeSend(client, env.Frame) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}
	h.removeFailedClients(clientsToRemove)
}

func (h *Hub) targets(env backplane.Envelope) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	switch env.Scope {
	case backplane.ScopeAll:
		clients := make([]*Client, 0, len(h.clients))
		for _, client := range h.clients {
			clients = append(clients, client)
		}
		return clients
	case backplane.ScopeRoom:
		members := h.rooms[env.Room]
		clients := make([]*Client, 0, len(members))
		for _, client := range members {
			clients = append(clients, client)
		}
		return clients
	case backplane.ScopeConn:
		if client, ok := h.clients[env.ConnID]; ok {
			return []*Client{client}
		}
	}
	return nil
}

// removeFailedClients drops clients whose send buffer is full and closes
// their connection; their read pump then runs the disconnect path.
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	for _, client := range clientsToRemove {
		h.mutex.RLock()
		registered, exists := h.clients[client.id]
		h.mutex.RUnlock()
		if !exists || registered != client {
			continue
		}
		log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
		h.detach(client)
	}
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing client connection from %s: %v", client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	deadline := time.After(timeout)
	select {
	case <-h.done:
	case <-deadline:
		log.Println("Hub loop did not stop before timeout")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-deadline:
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
