package server

import (
	"context"
	"fmt"
	"log"
)

// Join binds username to the client and records it in the shared user
// directory, then broadcasts the presence snapshot. Names are not validated
// and need not be unique. Repeating the bound name rewrites the entry.
func (g *Gateway) Join(ctx context.Context, client *Client, username string) error {
	if bound, ok := client.Username(); ok && bound != username {
		return fmt.Errorf("%w as %q", ErrAlreadyJoined, bound)
	}

	if err := g.directory.Join(ctx, client.id, username); err != nil {
		return err
	}
	client.bind(username)
	log.Printf("Client %s joined as %q", client.id, username)

	return g.broadcastUsers(ctx)
}

// Leave removes the client's user entry and broadcasts the presence
// snapshot. Leaving without an entry is a no-op on the store.
func (g *Gateway) Leave(ctx context.Context, client *Client) error {
	if err := g.directory.Leave(ctx, client.id); err != nil {
		return err
	}
	return g.broadcastUsers(ctx)
}

// broadcastUsers reads the whole user directory and sends it to every
// connection on every process as users:update.
func (g *Gateway) broadcastUsers(ctx context.Context) error {
	users, err := g.directory.Users(ctx)
	if err != nil {
		return err
	}
	return g.broadcast(ctx, EventUsersUpdate, users)
}
