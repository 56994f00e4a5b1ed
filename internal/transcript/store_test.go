package transcript_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/omochice/framechat/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AppendOrder(t *testing.T) {
	s := transcript.New()

	s.Append("one")
	s.Appendf("%s %d", "two", 2)
	e := s.Append("three")

	assert.Equal(t, uint64(3), e.Seq)
	assert.Equal(t, []string{"one", "two 2", "three"}, s.Lines())
	assert.Equal(t, 3, s.Len())
}

func TestStore_SnapshotIsStable(t *testing.T) {
	s := transcript.New()
	s.Append("a")
	s.Append("b")

	snap := s.Snapshot()
	for i := 0; i < 100; i++ {
		s.Append(fmt.Sprintf("later %d", i))
	}

	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Text)
	assert.Equal(t, "b", snap[1].Text)

	// Appending to a snapshot must not leak into the store.
	_ = append(snap, transcript.Entry{Text: "rogue"})
	assert.Equal(t, "later 0", s.Snapshot()[2].Text)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	const writers, perWriter = 8, 200
	s := transcript.New()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				s.Appendf("w%d-%d", w, i)
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, writers*perWriter)

	last := make(map[string]int)
	for i, e := range snap {
		assert.Equal(t, uint64(i+1), e.Seq)
		if i > 0 {
			assert.False(t, e.At.Before(snap[i-1].At), "timestamps must not go backwards")
		}
		var w, n int
		_, err := fmt.Sscanf(e.Text, "w%d-%d", &w, &n)
		require.NoError(t, err)
		key := fmt.Sprint(w)
		if prev, ok := last[key]; ok {
			assert.Greater(t, n, prev, "a writer's own appends keep their order")
		}
		last[key] = n
	}
}

func TestStore_SubscribeSeesMonotonicSnapshots(t *testing.T) {
	s := transcript.New()
	s.Append("before")

	ch, cancel := s.Subscribe()
	defer cancel()

	first := <-ch
	require.Len(t, first, 1)
	assert.Equal(t, "before", first[0].Text)

	const total = 500
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < total/4; i++ {
				s.Append("x")
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	prev := first
	deadline := time.After(5 * time.Second)
	for len(prev) < total+1 {
		select {
		case snap := <-ch:
			require.GreaterOrEqual(t, len(snap), len(prev), "snapshots never shrink")
			for i := range prev {
				require.Equal(t, prev[i], snap[i], "published entries never change")
			}
			prev = snap
		case <-deadline:
			t.Fatalf("only saw %d of %d entries", len(prev), total+1)
		}
	}
	<-done
}

func TestStore_SlowSubscriberDoesNotBlock(t *testing.T) {
	s := transcript.New()
	ch, cancel := s.Subscribe()
	defer cancel()

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Append("line")
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a subscriber that never reads")
	}

	snap := <-ch
	assert.Len(t, snap, 1000, "the buffered snapshot is the newest one")
}

func TestStore_Unsubscribe(t *testing.T) {
	s := transcript.New()
	ch, cancel := s.Subscribe()
	<-ch

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok, "channel is closed after cancel")

	assert.NotPanics(t, func() { s.Append("after cancel") })
}
