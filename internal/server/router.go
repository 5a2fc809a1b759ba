package server

import (
	"context"
	"log"

	"github.com/Tyrowin/presence/internal/backplane"
)

// SendPrivate resolves msg.To across the whole user directory and delivers
// to the first matching connection. The sender always gets an echo, whether
// or not a recipient was found. A directory failure aborts both.
func (g *Gateway) SendPrivate(ctx context.Context, sender *Client, msg PrivateMessage) error {
	target, found, err := g.directory.Resolve(ctx, msg.To)
	if err != nil {
		return err
	}

	frame, err := encodeFrame(EventMessageReceive, ReceivedMessage{
		From:    msg.From,
		Content: msg.Content,
		To:      msg.To,
	})
	if err != nil {
		return err
	}

	if found {
		if err := g.publish(ctx, backplane.Envelope{Scope: backplane.ScopeConn, ConnID: target, Frame: frame}); err != nil {
			return err
		}
	} else {
		log.Printf("Private message from %s: no connection for %q", sender.id, msg.To)
	}

	return g.publish(ctx, backplane.Envelope{Scope: backplane.ScopeConn, ConnID: sender.id, Frame: frame})
}

// SendRoom delivers msg to every connection subscribed to msg.Room on any
// process. A room without subscribers swallows the message.
func (g *Gateway) SendRoom(ctx context.Context, msg RoomMessage) error {
	frame, err := encodeFrame(EventMessageReceive, ReceivedMessage{
		From:    msg.From,
		Content: msg.Content,
		Room:    msg.Room,
	})
	if err != nil {
		return err
	}
	return g.publish(ctx, backplane.Envelope{Scope: backplane.ScopeRoom, Room: msg.Room, Frame: frame})
}
