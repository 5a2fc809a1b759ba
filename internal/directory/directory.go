package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// Store keys shared by every process.
const (
	UsersKey = "users"
	RoomsKey = "rooms"
)

// User is the value stored for each connection in the user directory.
type User struct {
	Username string `json:"username"`
	IsActive bool   `json:"isActive"`
}

// Entry is one element of a presence snapshot.
type Entry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	IsActive bool   `json:"isActive"`
}

// Directory reads and writes the user directory and the room set.
type Directory struct {
	store Store
}

// New creates a Directory on top of store.
func New(store Store) *Directory {
	return &Directory{store: store}
}

// Join records username for connID. The name is not validated and need not
// be unique.
func (d *Directory) Join(ctx context.Context, connID, username string) error {
	value, err := json.Marshal(User{Username: username, IsActive: true})
	if err != nil {
		return fmt.Errorf("encode user %s: %w", connID, err)
	}
	if err := d.store.SetField(ctx, UsersKey, connID, value); err != nil {
		return fmt.Errorf("join %s: %w", connID, err)
	}
	return nil
}

// Leave removes the entry for connID. Removing a missing entry is a no-op.
func (d *Directory) Leave(ctx context.Context, connID string) error {
	if err := d.store.DeleteField(ctx, UsersKey, connID); err != nil {
		return fmt.Errorf("leave %s: %w", connID, err)
	}
	return nil
}

// Users returns the full presence snapshot. Entries that fail to decode are
// logged and skipped.
func (d *Directory) Users(ctx context.Context) ([]Entry, error) {
	fields, err := d.store.Fields(ctx, UsersKey)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	entries := make([]Entry, 0, len(fields))
	for _, field := range fields {
		var user User
		if err := json.Unmarshal(field.Value, &user); err != nil {
			log.Printf("Skipping undecodable user entry %s: %v", field.Name, err)
			continue
		}
		entries = append(entries, Entry{ID: field.Name, Username: user.Username, IsActive: user.IsActive})
	}
	return entries, nil
}

// Resolve scans the user directory for the first connection bound to
// username. When several connections share the name, which one wins depends
// on store iteration order.
func (d *Directory) Resolve(ctx context.Context, username string) (string, bool, error) {
	entries, err := d.Users(ctx)
	if err != nil {
		return "", false, err
	}
	for _, entry := range entries {
		if entry.Username == username {
			return entry.ID, true, nil
		}
	}
	return "", false, nil
}

// AddRoom records that room exists. Idempotent.
func (d *Directory) AddRoom(ctx context.Context, room string) error {
	if err := d.store.AddMember(ctx, RoomsKey, room); err != nil {
		return fmt.Errorf("add room %q: %w", room, err)
	}
	return nil
}

// Rooms returns every room name ever created.
func (d *Directory) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := d.store.Members(ctx, RoomsKey)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// Ping reports whether the underlying store is reachable.
func (d *Directory) Ping(ctx context.Context) error {
	return d.store.Ping(ctx)
}

// Close closes the underlying store.
func (d *Directory) Close() error {
	return d.store.Close()
}
