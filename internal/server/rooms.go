package server

import (
	"context"
	"fmt"
)

// CreateRoom records room in the shared room set, subscribes the client to
// the local room group and broadcasts the room list. Creating an existing
// room only subscribes.
func (g *Gateway) CreateRoom(ctx context.Context, client *Client, room string) error {
	if err := g.directory.AddRoom(ctx, room); err != nil {
		return err
	}
	return g.JoinRoom(ctx, client, room)
}

// JoinRoom subscribes the client to the local room group and broadcasts the
// room list. The shared room set is not touched, so a room that was never
// created receives messages but is not listed.
func (g *Gateway) JoinRoom(ctx context.Context, client *Client, room string) error {
	if !g.hub.Subscribe(client.id, room) {
		return fmt.Errorf("%w: %s", ErrNotRegistered, client.id)
	}
	return g.broadcastRooms(ctx)
}

// ListRooms broadcasts the room list.
func (g *Gateway) ListRooms(ctx context.Context) error {
	return g.broadcastRooms(ctx)
}

// Rooms returns every created room with the number of members subscribed on
// this process. Counts are not aggregated across processes.
func (g *Gateway) Rooms(ctx context.Context) ([]RoomSummary, error) {
	names, err := g.directory.Rooms(ctx)
	if err != nil {
		return nil, err
	}

	rooms := make([]RoomSummary, 0, len(names))
	for _, name := range names {
		rooms = append(rooms, RoomSummary{Name: name, Users: g.hub.RoomSize(name)})
	}
	return rooms, nil
}

func (g *Gateway) broadcastRooms(ctx context.Context) error {
	rooms, err := g.Rooms(ctx)
	if err != nil {
		return err
	}
	return g.broadcast(ctx, EventRoomsUpdate, rooms)
}
