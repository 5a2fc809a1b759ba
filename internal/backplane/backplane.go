// Package backplane carries outbound frames between server processes so that a
// broadcast, a room message or a message for a connection owned by another
// process reaches every process that may hold a recipient.
//
// Every process publishes envelopes and every process receives all of them,
// its own included; the receiving hub decides which of its local connections
// an envelope targets. Delivery is best effort and at most once. Envelopes
// from one publisher reach each subscriber in publish order.
package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned when publishing or subscribing on a closed backplane.
var ErrClosed = errors.New("backplane closed")

// Scope selects which local connections an envelope is for.
type Scope string

// Envelope scopes.
const (
	ScopeAll  Scope = "all"
	ScopeRoom Scope = "room"
	ScopeConn Scope = "conn"
)

// Envelope wraps an encoded client frame with its routing target.
type Envelope struct {
	Origin string          `json:"origin"`
	Scope  Scope           `json:"scope"`
	Room   string          `json:"room,omitempty"`
	ConnID string          `json:"connId,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Validate checks that the envelope names the target its scope needs.
func (e Envelope) Validate() error {
	switch e.Scope {
	case ScopeAll:
	case ScopeRoom:
	case ScopeConn:
		if e.ConnID == "" {
			return fmt.Errorf("conn envelope without connection id")
		}
	default:
		return fmt.Errorf("unknown envelope scope %q", e.Scope)
	}
	if len(e.Frame) == 0 {
		return fmt.Errorf("envelope without frame")
	}
	return nil
}

// Handler receives envelopes. It is called from a single goroutine per
// subscription and must not block for long.
type Handler func(Envelope)

// Backplane is the cross-process broadcast primitive.
type Backplane interface {
	// Publish sends env to every subscriber on every process.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers handler and returns once the subscription is live.
	// Delivery stops when ctx is done or the backplane is closed.
	Subscribe(ctx context.Context, handler Handler) error

	// Close stops all subscriptions.
	Close() error
}

// Local is an in-process backplane. Processes sharing one *Local behave like
// separate servers on a shared bus, which is how single-node deployments and
// tests run.
type Local struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	closed bool
}

type localSub struct {
	ch   chan Envelope
	done chan struct{}
	once sync.Once
}

func (s *localSub) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewLocal creates an in-process backplane.
func NewLocal() *Local {
	return &Local{subs: make(map[*localSub]struct{})}
}

// Publish queues env for every subscriber. It blocks while a subscriber's
// queue is full, preserving order, until ctx is done.
func (l *Local) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*localSub, 0, len(l.subs))
	for sub := range l.subs {
		subs = append(subs, sub)
	}
	l.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- env:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine for handler.
func (l *Local) Subscribe(ctx context.Context, handler Handler) error {
	sub := &localSub{
		ch:   make(chan Envelope, 256),
		done: make(chan struct{}),
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	go func() {
		defer l.remove(sub)
		for {
			select {
			case env := <-sub.ch:
				handler(env)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (l *Local) remove(sub *localSub) {
	sub.stop()
	l.mu.Lock()
	delete(l.subs, sub)
	l.mu.Unlock()
}

// Close stops every subscription.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	for sub := range l.subs {
		sub.stop()
	}
	return nil
}
