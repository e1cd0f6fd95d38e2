package receive_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OpenHCSDev/polystore-core/core"
	"github.com/OpenHCSDev/polystore-core/receive"
	"github.com/stretchr/testify/require"
)

func TestDebouncedBatchEngineFlushesAfterDebounceDelay(t *testing.T) {
	var mu sync.Mutex
	var gotItems []core.Item
	flushed := make(chan struct{})

	eng, err := receive.NewDebouncedBatchEngine(core.EngineConfig{
		DebounceDelay: 20 * time.Millisecond,
		MaxWait:       time.Second,
	}, func(items []core.Item, ctx receive.Context) {
		mu.Lock()
		gotItems = append(gotItems, items...)
		mu.Unlock()
		close(flushed)
	})
	require.NoError(t, err)

	eng.Enqueue([]core.Item{{ItemID: "a"}}, receive.Context{"k": "v"})

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("engine never flushed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotItems, 1)
	require.Equal(t, "a", gotItems[0].ItemID)
}

func TestDebouncedBatchEngineCoalescesRapidEnqueues(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var gotItems []core.Item
	flushed := make(chan struct{})

	eng, err := receive.NewDebouncedBatchEngine(core.EngineConfig{
		DebounceDelay: 40 * time.Millisecond,
		MaxWait:       time.Second,
	}, func(items []core.Item, ctx receive.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			mu.Lock()
			gotItems = append(gotItems, items...)
			mu.Unlock()
			close(flushed)
		}
	})
	require.NoError(t, err)

	// each enqueue arrives before the previous debounce window expires,
	// so all three items land in a single flush.
	eng.Enqueue([]core.Item{{ItemID: "a"}}, nil)
	time.Sleep(10 * time.Millisecond)
	eng.Enqueue([]core.Item{{ItemID: "b"}}, nil)
	time.Sleep(10 * time.Millisecond)
	eng.Enqueue([]core.Item{{ItemID: "c"}}, nil)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("engine never flushed")
	}

	time.Sleep(100 * time.Millisecond) // make sure no second flush sneaks in
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, gotItems, 3)
}

func TestDebouncedBatchEngineRespectsMaxWaitUnderConstantTraffic(t *testing.T) {
	flushedAt := make(chan time.Time, 1)
	start := time.Now()

	eng, err := receive.NewDebouncedBatchEngine(core.EngineConfig{
		DebounceDelay: 30 * time.Millisecond,
		MaxWait:       80 * time.Millisecond,
	}, func(items []core.Item, ctx receive.Context) {
		select {
		case flushedAt <- time.Now():
		default:
		}
	})
	require.NoError(t, err)

	// enqueue faster than the debounce delay so it alone would never
	// fire; max_wait must force a flush anyway.
	stop := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(stop) {
		eng.Enqueue([]core.Item{{ItemID: "x"}}, nil)
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ts := <-flushedAt:
		require.Less(t, ts.Sub(start), 200*time.Millisecond)
	default:
		t.Fatal("max_wait never forced a flush")
	}
}

func TestDebouncedBatchEngineRecoversFromProcessPanic(t *testing.T) {
	flushed := make(chan struct{})
	eng, err := receive.NewDebouncedBatchEngine(core.EngineConfig{
		DebounceDelay: 5 * time.Millisecond,
		MaxWait:       time.Second,
	}, func(items []core.Item, ctx receive.Context) {
		close(flushed)
		panic("boom")
	})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		eng.Enqueue([]core.Item{{ItemID: "a"}}, nil)
		select {
		case <-flushed:
		case <-time.After(time.Second):
			t.Fatal("engine never flushed")
		}
		time.Sleep(20 * time.Millisecond)
	})
}

func TestDebouncedBatchEngineRejectsInvalidConfig(t *testing.T) {
	_, err := receive.NewDebouncedBatchEngine(core.EngineConfig{}, func([]core.Item, receive.Context) {})
	require.Error(t, err)
	require.Equal(t, core.KindConfiguration, core.KindOf(err))
}

func TestDebouncedBatchEngineFlushOnEmptyIsNoop(t *testing.T) {
	called := false
	eng, err := receive.NewDebouncedBatchEngine(core.EngineConfig{
		DebounceDelay: time.Millisecond,
		MaxWait:       time.Second,
	}, func([]core.Item, receive.Context) { called = true })
	require.NoError(t, err)

	eng.Flush()
	require.False(t, called)
}
