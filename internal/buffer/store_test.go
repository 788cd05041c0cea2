package buffer

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

func TestStore_ShardForIsStable(t *testing.T) {
	s := newStore()
	key := message.NewKey("inst-1", "5511")

	if s.shardFor(key) != s.shardFor(key) {
		t.Error("shardFor() returned different shards for the same key")
	}

	used := make(map[*shard]bool)
	for i := 0; i < 200; i++ {
		used[s.shardFor(message.NewKey("inst-1", fmt.Sprintf("55%03d", i)))] = true
	}
	if len(used) < shardCount/2 {
		t.Errorf("200 keys landed on %d shards, want a wider spread", len(used))
	}
}

func TestStore_KeysAndClear(t *testing.T) {
	s := newStore()
	now := time.Now()

	for _, c := range []string{"a", "b", "c"} {
		key := message.NewKey("inst-1", c)
		sh := s.shardFor(key)
		sh.mu.Lock()
		sh.getOrCreate(key).open = newConversationBuffer(key, now)
		sh.mu.Unlock()
	}

	if got := len(s.keys()); got != 3 {
		t.Fatalf("keys() = %d, want 3", got)
	}

	cleared := 0
	s.clear(func(*conversationBuffer) { cleared++ })
	if cleared != 3 {
		t.Errorf("cleared %d buffers, want 3", cleared)
	}
	if got := len(s.keys()); got != 0 {
		t.Errorf("keys() after clear = %d, want 0", got)
	}
}

func TestConversationEntry_Detach(t *testing.T) {
	now := time.Now()
	first := newConversationBuffer("k", now)
	second := newConversationBuffer("k", now)
	open := newConversationBuffer("k", now)
	stranger := newConversationBuffer("k", now)

	e := &conversationEntry{open: open, inflight: []*conversationBuffer{first, second}}

	if e.detach(stranger) {
		t.Error("detach(stranger) reported head")
	}
	if len(e.buffers()) != 3 {
		t.Fatalf("buffers() = %d after detaching a stranger, want 3", len(e.buffers()))
	}
	if e.detach(second) {
		t.Error("detach(second) reported head")
	}
	if !e.detach(first) {
		t.Error("detach(first) did not report head")
	}
	if e.head() != nil {
		t.Error("head() should be nil once the FIFO is empty")
	}
	e.detach(open)
	if !e.empty() {
		t.Error("entry should be empty")
	}
}

func TestTimerSlot(t *testing.T) {
	var slot timerSlot
	var fired atomic.Int32
	gens := make(chan uint64, 2)

	slot.arm(time.Hour, func(gen uint64) { gens <- gen })
	stale := slot.gen
	slot.arm(10*time.Millisecond, func(gen uint64) {
		fired.Add(1)
		gens <- gen
	})

	if !slot.armed() {
		t.Fatal("slot should be armed")
	}
	if slot.consume(stale) {
		t.Error("consume() accepted a superseded generation")
	}

	select {
	case gen := <-gens:
		if !slot.consume(gen) {
			t.Error("consume() rejected the current generation")
		}
		if slot.consume(gen) {
			t.Error("consume() accepted the same generation twice")
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	slot.arm(time.Hour, func(uint64) {})
	current := slot.gen
	slot.cancel()
	if slot.armed() || slot.consume(current) {
		t.Error("cancelled timer should not be consumable")
	}
	if fired.Load() != 1 {
		t.Errorf("fired = %d, want 1", fired.Load())
	}
}

func TestBufferState_String(t *testing.T) {
	states := map[bufferState]string{
		stateActive:     "active",
		stateQueued:     "queued",
		stateFlushing:   "flushing",
		stateBackoff:    "backoff",
		stateRemoved:    "removed",
		bufferState(42): "unknown",
	}
	for s, want := range states {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
