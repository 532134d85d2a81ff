package audio

import (
	"context"
	"testing"
	"time"
)

func qchunk(seq int64, tag SourceTag) *Chunk {
	return &Chunk{
		Sequence:   seq,
		CapturedAt: time.Now(),
		Source:     tag,
		Samples:    make([]float32, 4),
		SampleRate: EngineSampleRate,
	}
}

func TestQueue(t *testing.T) {
	t.Run("push_pop_fifo_order", func(t *testing.T) {
		q := NewQueue(4, nil)
		for i := int64(1); i <= 3; i++ {
			if ev := q.Push(qchunk(i, SourceMicrophone)); ev != nil {
				t.Fatalf("unexpected eviction of seq %d", ev.Sequence)
			}
		}
		for i := int64(1); i <= 3; i++ {
			c := q.Pop()
			if c == nil {
				t.Fatalf("pop %d returned nil", i)
			}
			if c.Sequence != i {
				t.Errorf("pop %d sequence = %d, want %d", i, c.Sequence, i)
			}
		}
		if c := q.Pop(); c != nil {
			t.Errorf("pop on empty queue = seq %d, want nil", c.Sequence)
		}
	})

	t.Run("overflow_evicts_oldest", func(t *testing.T) {
		var evictions []Eviction
		q := NewQueue(10, func(ev Eviction) {
			evictions = append(evictions, ev)
		})

		for i := int64(1); i <= 12; i++ {
			q.Push(qchunk(i, SourceMicrophone))
		}

		if len(evictions) != 2 {
			t.Fatalf("evictions = %d, want 2", len(evictions))
		}
		if evictions[0].Sequence != 1 || evictions[1].Sequence != 2 {
			t.Errorf("evicted sequences = %d, %d, want 1, 2", evictions[0].Sequence, evictions[1].Sequence)
		}
		for want := int64(3); want <= 12; want++ {
			c := q.Pop()
			if c == nil || c.Sequence != want {
				t.Fatalf("pop = %v, want seq %d", c, want)
			}
		}
	})

	t.Run("eviction_reports_source_and_depth", func(t *testing.T) {
		var got Eviction
		q := NewQueue(2, func(ev Eviction) { got = ev })

		q.Push(qchunk(1, SourceSystemAudio))
		q.Push(qchunk(2, SourceMicrophone))
		q.Push(qchunk(3, SourceMicrophone))

		if got.Sequence != 1 {
			t.Errorf("eviction sequence = %d, want 1", got.Sequence)
		}
		if got.Source != SourceSystemAudio {
			t.Errorf("eviction source = %s, want system_audio", got.Source)
		}
		if got.Depth != 2 {
			t.Errorf("eviction depth = %d, want 2", got.Depth)
		}
	})

	t.Run("push_returns_evicted_chunk", func(t *testing.T) {
		q := NewQueue(1, nil)
		first := qchunk(1, SourceMicrophone)
		q.Push(first)
		ev := q.Push(qchunk(2, SourceMicrophone))
		if ev != first {
			t.Errorf("evicted = %v, want the first chunk", ev)
		}
	})

	t.Run("popwait_returns_queued_chunk_immediately", func(t *testing.T) {
		q := NewQueue(4, nil)
		q.Push(qchunk(1, SourceMicrophone))

		start := time.Now()
		c := q.PopWait(context.Background(), time.Second)
		if c == nil || c.Sequence != 1 {
			t.Fatalf("popwait = %v, want seq 1", c)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Error("popwait waited despite a queued chunk")
		}
	})

	t.Run("popwait_times_out_on_empty_queue", func(t *testing.T) {
		q := NewQueue(4, nil)
		if c := q.PopWait(context.Background(), 50*time.Millisecond); c != nil {
			t.Errorf("popwait on empty queue = seq %d, want nil", c.Sequence)
		}
	})

	t.Run("popwait_wakes_on_push", func(t *testing.T) {
		q := NewQueue(4, nil)
		go func() {
			time.Sleep(20 * time.Millisecond)
			q.Push(qchunk(7, SourceMicrophone))
		}()
		c := q.PopWait(context.Background(), time.Second)
		if c == nil || c.Sequence != 7 {
			t.Fatalf("popwait = %v, want seq 7", c)
		}
	})

	t.Run("popwait_honors_context_cancellation", func(t *testing.T) {
		q := NewQueue(4, nil)
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(20 * time.Millisecond)
			cancel()
		}()
		start := time.Now()
		if c := q.PopWait(ctx, time.Second); c != nil {
			t.Errorf("popwait after cancel = seq %d, want nil", c.Sequence)
		}
		if time.Since(start) > 500*time.Millisecond {
			t.Error("popwait did not return promptly on cancel")
		}
	})

	t.Run("closed_queue_rejects_pushes_but_drains", func(t *testing.T) {
		q := NewQueue(4, nil)
		q.Push(qchunk(1, SourceMicrophone))
		q.Close()

		rejected := qchunk(2, SourceMicrophone)
		if got := q.Push(rejected); got != rejected {
			t.Errorf("push to closed queue returned %v, want the chunk back", got)
		}
		if c := q.Pop(); c == nil || c.Sequence != 1 {
			t.Errorf("drain after close = %v, want seq 1", c)
		}
	})

	t.Run("reset_discards_and_reopens", func(t *testing.T) {
		q := NewQueue(4, nil)
		q.Push(qchunk(1, SourceMicrophone))
		q.Push(qchunk(2, SourceMicrophone))
		q.Close()

		if dropped := q.Reset(); dropped != 2 {
			t.Errorf("reset dropped = %d, want 2", dropped)
		}
		if q.Len() != 0 {
			t.Errorf("len after reset = %d, want 0", q.Len())
		}
		if ev := q.Push(qchunk(3, SourceMicrophone)); ev != nil {
			t.Error("push after reset was rejected")
		}
		if c := q.Pop(); c == nil || c.Sequence != 3 {
			t.Errorf("pop after reset = %v, want seq 3", c)
		}
	})

	t.Run("nonpositive_capacity_falls_back_to_default", func(t *testing.T) {
		q := NewQueue(0, nil)
		if q.Cap() != DefaultQueueCapacity {
			t.Errorf("cap = %d, want %d", q.Cap(), DefaultQueueCapacity)
		}
	})
}
