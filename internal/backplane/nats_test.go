package backplane

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runNATSServer(t *testing.T) string {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server did not start")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATSBackplane(t *testing.T) {
	url := runNATSServer(t)

	nc, err := ConnectNATS(url, "presence-test")
	require.NoError(t, err)

	bp := NewNATS(nc, "", true)
	defer bp.Close()

	assert.Equal(t, DefaultChannel, bp.subject)
	exerciseBackplane(t, bp)
}

func TestNATSBackplaneSharedAcrossInstances(t *testing.T) {
	url := runNATSServer(t)

	ncA, err := ConnectNATS(url, "node-a")
	require.NoError(t, err)
	ncB, err := ConnectNATS(url, "node-b")
	require.NoError(t, err)

	nodeA := NewNATS(ncA, "frames", true)
	defer nodeA.Close()
	nodeB := NewNATS(ncB, "frames", true)
	defer nodeB.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := &collector{}
	require.NoError(t, nodeB.Subscribe(ctx, got.handle))
	require.NoError(t, nodeA.Publish(ctx, frameEnvelope(ScopeAll, 3)))

	envs := got.waitFor(t, 1)
	assert.JSONEq(t, `{"event":"test","data":3}`, string(envs[0].Frame))
}

func TestNATSBackplaneClosed(t *testing.T) {
	url := runNATSServer(t)

	nc, err := ConnectNATS(url, "presence-test")
	require.NoError(t, err)

	bp := NewNATS(nc, "frames", true)
	require.NoError(t, bp.Close())

	assert.ErrorIs(t, bp.Publish(context.Background(), frameEnvelope(ScopeAll, 1)), ErrClosed)
	assert.ErrorIs(t, bp.Subscribe(context.Background(), func(Envelope) {}), ErrClosed)
}

func TestConnectNATSFailure(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1", "presence-test")
	assert.Error(t, err)
}
