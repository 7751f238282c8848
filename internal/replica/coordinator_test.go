package replica

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/lobby"
)

type fakeSubstrate struct {
	acquires   int
	publishes  [][]byte
	bans       int
	acquireErr error
	publishErr error
}

func (f *fakeSubstrate) Acquire(context.Context, string) error {
	f.acquires++
	return f.acquireErr
}

func (f *fakeSubstrate) Publish(_ context.Context, _ string, payload []byte, _ []engine.Event) error {
	f.publishes = append(f.publishes, payload)
	return f.publishErr
}

func (f *fakeSubstrate) Ban(context.Context, string) error {
	f.bans++
	return nil
}

var started = engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}

func TestEnsureOwnership_AcquiresOnce(t *testing.T) {
	sub := &fakeSubstrate{}
	c := New("a", sub, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, c.EnsureOwnership(ctx))
	require.NoError(t, c.EnsureOwnership(ctx))
	assert.Equal(t, 1, sub.acquires)
	assert.True(t, c.IsOwner())
}

func TestCommit_BecomesOwnerBeforeWriting(t *testing.T) {
	sub := &fakeSubstrate{}
	c := New("a", sub, nil, zaptest.NewLogger(t))

	require.NoError(t, c.Commit(context.Background(), started, nil))
	assert.Equal(t, 1, sub.acquires)
	require.Len(t, sub.publishes, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0xff, 0x00}, sub.publishes[0])
}

func TestCommit_FailureReportsUnavailable(t *testing.T) {
	cases := []struct {
		name string
		sub  *fakeSubstrate
	}{
		{name: "acquire fails", sub: &fakeSubstrate{acquireErr: lobby.ErrClosed}},
		{name: "publish fails", sub: &fakeSubstrate{publishErr: lobby.ErrClosed}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var delivered int
			c := New("a", tc.sub, func(Delivery) { delivered++ }, zaptest.NewLogger(t))

			err := c.Commit(context.Background(), started, nil)
			require.ErrorIs(t, err, ErrUnavailable)
			require.ErrorIs(t, err, lobby.ErrClosed)
			assert.False(t, c.IsOwner())
			assert.Zero(t, delivered, "no speculative local apply")
		})
	}
}

func TestCommit_RejectsInvalidRecord(t *testing.T) {
	sub := &fakeSubstrate{}
	c := New("a", sub, nil, zaptest.NewLogger(t))

	err := c.Commit(context.Background(), engine.State{SuccessCount: -5}, nil)
	require.Error(t, err)
	assert.Empty(t, sub.publishes)
}

func TestReceive_TracksOwnerAndBanFlag(t *testing.T) {
	var got []Delivery
	c := New("a", &fakeSubstrate{}, func(d Delivery) { got = append(got, d) }, zaptest.NewLogger(t))

	require.NoError(t, c.Receive(lobby.Snapshot{Version: 3, Owner: "a", Payload: []byte{2, 0, 1, 0}}))
	assert.True(t, c.IsOwner())

	require.NoError(t, c.Receive(lobby.Snapshot{Version: 4, Owner: "b", Payload: []byte{2, 0, 1, 1}}))
	assert.False(t, c.IsOwner())

	require.Len(t, got, 2)
	assert.Equal(t, engine.State{SuccessCount: 2, StageIndex: 0, VariantIndex: 1}, got[0].State)
	assert.False(t, got[0].Banned)
	assert.True(t, got[1].Banned)

	err := c.Receive(lobby.Snapshot{Version: 5, Payload: []byte{0}})
	require.Error(t, err)
	assert.Len(t, got, 2)
}

func TestCoordinator_OverLobby(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := lobby.NewLobby(ctx, "ABC123", lobby.WithLogger(zaptest.NewLogger(t)))

	outA := make(chan lobby.Snapshot, 4)
	outB := make(chan lobby.Snapshot, 4)
	l.Inbox() <- lobby.Join{ClientID: "a", Outbox: outA}
	l.Inbox() <- lobby.Join{ClientID: "b", Outbox: outB}

	var seenA, seenB []Delivery
	a := New("a", l, func(d Delivery) { seenA = append(seenA, d) }, zaptest.NewLogger(t))
	b := New("b", l, func(d Delivery) { seenB = append(seenB, d) }, zaptest.NewLogger(t))

	drain := func(c *Coordinator, ch chan lobby.Snapshot) {
		t.Helper()
		select {
		case snap := <-ch:
			require.NoError(t, c.Receive(snap))
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for snapshot")
		}
	}
	drain(a, outA)
	drain(b, outB)

	require.NoError(t, a.Commit(ctx, started, []engine.Event{{Type: engine.EvtGameStarted}}))
	drain(a, outA)
	drain(b, outB)
	assert.True(t, a.IsOwner())
	assert.False(t, b.IsOwner())

	// b commits without holding the lease; it takes it over.
	next := engine.State{SuccessCount: 1, StageIndex: 0, VariantIndex: 0}
	require.NoError(t, b.Commit(ctx, next, nil))
	drain(a, outA)
	drain(b, outB)
	assert.False(t, a.IsOwner())
	assert.True(t, b.IsOwner())

	require.Len(t, seenA, 3)
	assert.Equal(t, seenA, seenB, "every participant observes the same sequence")
	assert.Equal(t, next, seenA[2].State)

	cancel()
	<-l.Done()
	err := b.Commit(context.Background(), started, nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
