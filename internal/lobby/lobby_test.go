package lobby

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/anomaly-detection/internal/engine"
	"github.com/DoyleJ11/anomaly-detection/internal/wire"
)

// helper: receive one snapshot with a timeout so tests never hang
func recvSnapshot(t *testing.T, ch <-chan Snapshot, within time.Duration) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return Snapshot{} // unreachable
	}
}

func recvView(t *testing.T, ch <-chan View, within time.Duration) View {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(within):
		t.Fatalf("timed out waiting for view")
		return View{} // unreachable
	}
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for reply")
		return nil
	}
}

func decode(t *testing.T, snap Snapshot) wire.Record {
	t.Helper()
	rec, err := wire.Decode(snap.Payload)
	require.NoError(t, err)
	return rec
}

func view(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	return recvView(t, reply, 100*time.Millisecond)
}

func publish(t *testing.T, l *Lobby, clientID string, s engine.State, events ...engine.Event) error {
	t.Helper()
	payload, err := wire.Encode(s, false)
	require.NoError(t, err)
	reply := make(chan error, 1)
	l.Inbox() <- Publish{ClientID: clientID, Payload: payload, Events: events, Reply: reply}
	return recvErr(t, reply)
}

func newTestLobby(t *testing.T, opts ...Option) *Lobby {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewLobby(ctx, "TEST01", opts...)
}

func TestLobby_JoinReceivesCurrentRecord(t *testing.T) {
	l := newTestLobby(t)

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "p1", Outbox: out}

	first := recvSnapshot(t, out, 100*time.Millisecond)
	assert.Equal(t, 0, first.Version)
	assert.Equal(t, wire.Record{State: engine.NewSessionState()}, decode(t, first))
}

func TestLobby_PublishReachesEveryParticipantIncludingPublisher(t *testing.T) {
	l := newTestLobby(t)

	a := make(chan Snapshot, 4)
	b := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "a", Outbox: a}
	l.Inbox() <- Join{ClientID: "b", Outbox: b}
	recvSnapshot(t, a, 100*time.Millisecond)
	recvSnapshot(t, b, 100*time.Millisecond)

	started := engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}
	evt := engine.Event{Type: engine.EvtGameStarted}
	require.NoError(t, publish(t, l, "a", started, evt))

	for _, ch := range []chan Snapshot{a, b} {
		snap := recvSnapshot(t, ch, 100*time.Millisecond)
		assert.Equal(t, 1, snap.Version)
		assert.Equal(t, "a", snap.Owner)
		assert.Equal(t, started, decode(t, snap).State)
		assert.Equal(t, []engine.Event{evt}, snap.Events)
	}
}

func TestLobby_LastPublishWins(t *testing.T) {
	l := newTestLobby(t)

	first := engine.State{SuccessCount: 1, StageIndex: 0, VariantIndex: 2}
	second := engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}

	require.NoError(t, publish(t, l, "a", first))
	require.NoError(t, publish(t, l, "b", second))

	v := view(t, l)
	assert.Equal(t, 2, v.Version)
	assert.Equal(t, "b", v.Owner, "publishing transfers the lease")
	assert.Equal(t, second, v.State)
}

func TestLobby_AcquireTransfersLease(t *testing.T) {
	l := newTestLobby(t)

	reply := make(chan error, 1)
	l.Inbox() <- Acquire{ClientID: "a", Reply: reply}
	require.NoError(t, recvErr(t, reply))
	assert.Equal(t, "a", view(t, l).Owner)

	l.Inbox() <- Acquire{ClientID: "b", Reply: reply}
	require.NoError(t, recvErr(t, reply))
	v := view(t, l)
	assert.Equal(t, "b", v.Owner)
	assert.Equal(t, 0, v.Version, "a lease transfer alone does not replicate")
}

func TestLobby_OwnerLeavingVacatesLease(t *testing.T) {
	l := newTestLobby(t)

	out := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "a", Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)
	require.NoError(t, publish(t, l, "a", engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}))

	l.Inbox() <- Leave{ClientID: "a"}
	v := view(t, l)
	assert.Empty(t, v.Owner)
	assert.Equal(t, 0, v.NumClients)
}

func TestLobby_BanIsPerRecipientAndPermanent(t *testing.T) {
	l := newTestLobby(t)

	a := make(chan Snapshot, 4)
	b := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "a", Outbox: a}
	l.Inbox() <- Join{ClientID: "b", Outbox: b}
	recvSnapshot(t, a, 100*time.Millisecond)
	recvSnapshot(t, b, 100*time.Millisecond)

	reply := make(chan error, 1)
	l.Inbox() <- Ban{ClientID: "a", Reply: reply}
	require.NoError(t, recvErr(t, reply))

	assert.True(t, decode(t, recvSnapshot(t, a, 100*time.Millisecond)).Banned)
	assert.False(t, decode(t, recvSnapshot(t, b, 100*time.Millisecond)).Banned)

	err := publish(t, l, "a", engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset})
	require.ErrorIs(t, err, ErrBanned)

	require.NoError(t, publish(t, l, "b", engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}))
	assert.True(t, decode(t, recvSnapshot(t, a, 100*time.Millisecond)).Banned, "ban survives later commits")
	assert.Equal(t, []string{"a"}, view(t, l).Banned)
}

func TestLobby_RejectsMalformedPayload(t *testing.T) {
	l := newTestLobby(t)

	reply := make(chan error, 1)
	l.Inbox() <- Publish{ClientID: "a", Payload: []byte{1}, Reply: reply}
	require.ErrorIs(t, recvErr(t, reply), wire.ErrShortRecord)
	assert.Equal(t, 0, view(t, l).Version)
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newTestLobby(t)

	clientOut := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "ch1", Outbox: clientOut}

	require.NoError(t, publish(t, l, "other", engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}))

	if v := view(t, l); v.NumClients != 0 {
		t.Fatalf("expected slow client to be dropped; NumClients=%d", v.NumClients)
	}
}

func TestLobby_SendAfterShutdown(t *testing.T) {
	l := newTestLobby(t)

	out := make(chan Snapshot, 1)
	l.Inbox() <- Join{ClientID: "a", Outbox: out}
	recvSnapshot(t, out, 100*time.Millisecond)
	l.Inbox() <- Shutdown{}

	<-l.Done()
	err := l.Send(context.Background(), GetState{Reply: make(chan View, 1)})
	require.True(t, errors.Is(err, ErrClosed))

	select {
	case _, ok := <-out:
		assert.False(t, ok, "outbox closed on shutdown")
	case <-time.After(time.Second):
		t.Fatalf("outbox not closed")
	}
}

type memRecorder struct {
	mu      sync.Mutex
	commits []Commit
	bans    []string
	err     error
}

func (r *memRecorder) RecordCommit(_ context.Context, c Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, c)
	return r.err
}

func (r *memRecorder) RecordBan(_ context.Context, _ string, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bans = append(r.bans, clientID)
	return r.err
}

func TestLobby_RecorderSeesCommitsAndBans(t *testing.T) {
	rec := &memRecorder{err: errors.New("db down")}
	l := newTestLobby(t, WithRecorder(rec))

	s := engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}
	require.NoError(t, publish(t, l, "a", s), "recorder failure does not fail the publish")

	reply := make(chan error, 1)
	l.Inbox() <- Ban{ClientID: "b", Reply: reply}
	require.NoError(t, recvErr(t, reply))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.commits, 1)
	assert.Equal(t, Commit{Code: "TEST01", Version: 1, Owner: "a", State: s}, rec.commits[0])
	assert.Equal(t, []string{"b"}, rec.bans)
}

func TestLobby_RejoinReplacesConnection(t *testing.T) {
	l := newTestLobby(t)

	first := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "a", Outbox: first}
	recvSnapshot(t, first, 100*time.Millisecond)

	second := make(chan Snapshot, 4)
	l.Inbox() <- Join{ClientID: "a", Outbox: second}
	recvSnapshot(t, second, 100*time.Millisecond)

	select {
	case _, ok := <-first:
		assert.False(t, ok, "replaced outbox is closed")
	case <-time.After(time.Second):
		t.Fatalf("replaced outbox not closed")
	}

	// The old connection leaving must not evict the new one.
	l.Inbox() <- Leave{ClientID: "a", Outbox: first}
	assert.Equal(t, 1, view(t, l).NumClients)

	require.NoError(t, publish(t, l, "a", engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset}))
	assert.Equal(t, 1, recvSnapshot(t, second, 100*time.Millisecond).Version)

	l.Inbox() <- Leave{ClientID: "a", Outbox: second}
	assert.Equal(t, 0, view(t, l).NumClients)
}

func TestLobby_RestoredBansApplyOnJoin(t *testing.T) {
	l := newTestLobby(t, WithBanned("a"))

	out := make(chan Snapshot, 2)
	l.Inbox() <- Join{ClientID: "a", Outbox: out}
	assert.True(t, decode(t, recvSnapshot(t, out, 100*time.Millisecond)).Banned)

	err := publish(t, l, "a", engine.State{SuccessCount: 0, StageIndex: 0, VariantIndex: engine.Unset})
	require.ErrorIs(t, err, ErrBanned)
	assert.Equal(t, []string{"a"}, view(t, l).Banned)
}
