package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/viabridge-project/viabridge/internal/protocol"
)

func TestTickRunsSystemsInOrder(t *testing.T) {
	var order []string
	var sent []Outgoing

	l := NewLoop(time.Millisecond, func(ctx context.Context, o Outgoing) error {
		sent = append(sent, o)
		return nil
	})
	l.AddSystem("first", func(ctx context.Context, tick *Tick) {
		order = append(order, "first")
		require.Len(t, tick.Received, 1)
		tick.Send("c1", []byte{0x01})
	})
	l.AddSystem("second", func(ctx context.Context, tick *Tick) {
		order = append(order, "second")
		// Nothing is dispatched until every system has run.
		require.Empty(t, sent)
		tick.Defer(func() { order = append(order, "deferred") })
	})

	l.Push(Received{Conn: "c1", Packet: protocol.CustomQuery{TransactionID: 1}})
	l.Tick(context.Background())

	require.Equal(t, []string{"first", "second", "deferred"}, order)
	require.Equal(t, []Outgoing{{Conn: "c1", Body: []byte{0x01}}}, sent)

	// The queue was drained.
	l.AddSystem("third", func(ctx context.Context, tick *Tick) {
		require.Empty(t, tick.Received)
	})
	l.Tick(context.Background())

	st := l.Stats()
	require.Equal(t, uint64(2), st.Ticks)
	require.Equal(t, uint64(1), st.Received)
	require.Equal(t, uint64(1), st.Sent)
	require.Equal(t, []string{"first", "second", "third"}, st.Systems)
}

func TestPanickingSystemDoesNotStopTick(t *testing.T) {
	ran := false
	l := NewLoop(time.Millisecond, nil)
	l.AddSystem("bad", func(ctx context.Context, tick *Tick) { panic("boom") })
	l.AddSystem("good", func(ctx context.Context, tick *Tick) { ran = true })

	l.Tick(context.Background())
	require.True(t, ran)
}

func TestDispatchErrorsCounted(t *testing.T) {
	l := NewLoop(time.Millisecond, func(ctx context.Context, o Outgoing) error {
		return errors.New("connection closed")
	})
	l.Send(Outgoing{Conn: "gone", Body: []byte{0}})
	l.Tick(context.Background())

	require.Equal(t, uint64(1), l.Stats().SendErrors)
}

func TestRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	ticks := 0

	l := NewLoop(time.Millisecond, nil)
	l.AddSystem("count", func(ctx context.Context, tick *Tick) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
