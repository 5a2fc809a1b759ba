package backplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectNATS dials url with reconnects enabled forever.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATS carries envelopes on a NATS subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	owned   bool

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewNATS creates a backplane on subject. When owned is true, Close also
// drains and closes conn.
func NewNATS(conn *nats.Conn, subject string, owned bool) *NATS {
	if subject == "" {
		subject = DefaultChannel
	}
	return &NATS{conn: conn, subject: subject, owned: owned}
}

// Publish encodes env and publishes it.
func (n *NATS) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", n.subject, err)
	}
	return nil
}

// Subscribe flushes the connection so the interest is registered with the
// server before returning.
func (n *NATS) Subscribe(ctx context.Context, handler Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}

	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("Dropping undecodable envelope on %s: %v", n.subject, err)
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", n.subject, err)
	}
	if err := n.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription to %s: %w", n.subject, err)
	}
	n.subs = append(n.subs, sub)

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			log.Printf("Error unsubscribing from %s: %v", n.subject, err)
		}
	}()
	return nil
}

// Close unsubscribes everything.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	for _, sub := range n.subs {
		_ = sub.Unsubscribe()
	}
	n.subs = nil

	if n.owned {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	return nil
}
