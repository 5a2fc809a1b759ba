package server

import (
	"context"
	"fmt"

	"github.com/Tyrowin/presence/internal/backplane"
)

// broadcast sends one event to every connection on every process.
func (g *Gateway) broadcast(ctx context.Context, event string, data any) error {
	frame, err := encodeFrame(event, data)
	if err != nil {
		return err
	}
	return g.publish(ctx, backplane.Envelope{Scope: backplane.ScopeAll, Frame: frame})
}

func (g *Gateway) publish(ctx context.Context, env backplane.Envelope) error {
	env.Origin = g.nodeID
	if err := g.backplane.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s envelope: %w", env.Scope, err)
	}
	return nil
}
