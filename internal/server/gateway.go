package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/presence/internal/backplane"
	"github.com/Tyrowin/presence/internal/directory"
)

var (
	// ErrAlreadyJoined is returned when a joined connection asks for a different username.
	ErrAlreadyJoined = errors.New("connection already joined")
	// ErrNotRegistered is returned when a room operation names a connection
	// that is not live on this process.
	ErrNotRegistered = errors.New("connection not registered")
)

// Gateway ties one process's connection registry to the shared directory and
// the backplane. Every inbound event passes through HandleEvent.
type Gateway struct {
	nodeID       string
	hub          *Hub
	directory    *directory.Directory
	backplane    backplane.Backplane
	eventTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGateway creates a Gateway. Call Start before accepting connections.
func NewGateway(cfg Config, dir *directory.Directory, bp backplane.Backplane) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		nodeID:       cfg.NodeID,
		hub:          NewHub(),
		directory:    dir,
		backplane:    bp,
		eventTimeout: cfg.EventTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Hub returns the gateway's connection registry.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// NodeID returns the id this process stamps on published envelopes.
func (g *Gateway) NodeID() string {
	return g.nodeID
}

// Start checks the directory store, subscribes the hub to the backplane and
// starts the hub loop.
func (g *Gateway) Start(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := g.directory.Ping(egCtx); err != nil {
			return fmt.Errorf("directory store: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		if err := g.backplane.Subscribe(g.ctx, g.hub.Deliver); err != nil {
			return fmt.Errorf("backplane subscribe: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		g.cancel()
		return err
	}

	go g.hub.Run()
	log.Printf("Gateway %s started", g.nodeID)
	return nil
}

// Ready reports whether the directory store answers.
func (g *Gateway) Ready(ctx context.Context) error {
	return g.directory.Ping(ctx)
}

// Connect records a new, identity-less connection and starts its pumps.
func (g *Gateway) Connect(conn *websocket.Conn, addr string) (*Client, bool) {
	client := NewClient(conn, g.hub, g, addr)
	if !g.hub.Register(client) {
		return nil, false
	}
	log.Printf("Client connected: %s", client.id)
	return client, true
}

// HandleEvent dispatches one inbound frame. Payloads are validated here,
// before any state changes.
func (g *Gateway) HandleEvent(ctx context.Context, client *Client, frame Frame) error {
	switch frame.Event {
	case EventUserJoin:
		username, err := decodeString(frame.Event, frame.Data)
		if err != nil {
			return err
		}
		return g.Join(ctx, client, username)

	case EventPrivateMessage:
		msg, err := decodePrivateMessage(frame.Data)
		if err != nil {
			return err
		}
		return g.SendPrivate(ctx, client, msg)

	case EventRoomCreate:
		room, err := decodeString(frame.Event, frame.Data)
		if err != nil {
			return err
		}
		return g.CreateRoom(ctx, client, room)

	case EventRoomJoin:
		room, err := decodeString(frame.Event, frame.Data)
		if err != nil {
			return err
		}
		return g.JoinRoom(ctx, client, room)

	case EventRoomsList:
		return g.ListRooms(ctx)

	case EventRoomMessage:
		msg, err := decodeRoomMessage(frame.Data)
		if err != nil {
			return err
		}
		return g.SendRoom(ctx, msg)

	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformedPayload, frame.Event)
	}
}

// HandleDisconnect removes the connection's user entry, if any, and
// rebroadcasts presence. It is called once the client has left the hub.
func (g *Gateway) HandleDisconnect(client *Client) {
	log.Printf("Client disconnected: %s", client.id)

	ctx, cancel := g.eventContext()
	defer cancel()

	if err := g.Leave(ctx, client); err != nil {
		log.Printf("Leave for %s failed: %v", client.id, err)
	}
}

// Shutdown stops the hub, which disconnects every local client, then
// releases the backplane and the directory store.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	hubErr := g.hub.Shutdown(timeout)
	g.cancel()

	var errs []error
	if hubErr != nil {
		errs = append(errs, fmt.Errorf("hub: %w", hubErr))
	}
	if err := g.backplane.Close(); err != nil {
		errs = append(errs, fmt.Errorf("backplane: %w", err))
	}
	if err := g.directory.Close(); err != nil {
		errs = append(errs, fmt.Errorf("directory: %w", err))
	}
	return errors.Join(errs...)
}

// eventContext bounds work that is not tied to an inbound frame.
func (g *Gateway) eventContext() (context.Context, context.CancelFunc) {
	if g.eventTimeout > 0 {
		return context.WithTimeout(context.Background(), g.eventTimeout)
	}
	return context.WithCancel(context.Background())
}
