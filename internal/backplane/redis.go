package backplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel or subject envelopes travel on.
const DefaultChannel = "presence:frames"

// Redis carries envelopes over Redis Pub/Sub.
type Redis struct {
	client  redis.UniversalClient
	channel string

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedis creates a Redis backplane on channel. The client is borrowed; Close
// does not close it.
func NewRedis(client redis.UniversalClient, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Publish encodes env and publishes it.
func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe waits for the subscription confirmation before returning.
func (r *Redis) Subscribe(ctx context.Context, handler Handler) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.mu.Unlock()

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = pubsub.Close()
		return ErrClosed
	}
	r.subs = append(r.subs, pubsub)
	r.mu.Unlock()

	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				if r.release(pubsub) {
					_ = pubsub.Close()
				}
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("Dropping undecodable envelope on %s: %v", r.channel, err)
					continue
				}
				handler(env)
			}
		}
	}()
	return nil
}

// release drops pubsub from the tracked subscriptions. It reports false if
// Close already took it.
func (r *Redis) release(pubsub *redis.PubSub) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, sub := range r.subs {
		if sub == pubsub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Close closes every subscription.
func (r *Redis) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	for _, pubsub := range r.subs {
		if err := pubsub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.subs = nil
	return firstErr
}
