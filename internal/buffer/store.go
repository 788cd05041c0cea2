package buffer

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	pkgbuffer "github.com/jittakal/convbuffer/pkg/buffer"
	"github.com/jittakal/convbuffer/pkg/message"
)

const shardCount = 32

type bufferState int

const (
	stateActive bufferState = iota
	stateQueued
	stateFlushing
	stateBackoff
	stateRemoved
)

func (s bufferState) String() string {
	switch s {
	case stateActive:
		return "active"
	case stateQueued:
		return "queued"
	case stateFlushing:
		return "flushing"
	case stateBackoff:
		return "backoff"
	case stateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// conversationBuffer holds the messages of one batch.
// All fields are guarded by the owning shard's mutex.
type conversationBuffer struct {
	key         message.Key
	messages    []message.BufferedMessage
	createdAt   time.Time
	lastUpdated time.Time

	timer timerSlot
	state bufferState

	// snapshot is frozen when the buffer leaves the active state and is what
	// every attempt delivers.
	snapshot            []message.BufferedMessage
	processingAttempts  int
	processingStartedAt time.Time
	onFlush             pkgbuffer.FlushFunc
	lastErr             error

	// cancel is set while a handler goroutine runs for b.
	cancel context.CancelFunc
}

func newConversationBuffer(key message.Key, now time.Time) *conversationBuffer {
	return &conversationBuffer{
		key:         key,
		createdAt:   now,
		lastUpdated: now,
		state:       stateActive,
	}
}

func (b *conversationBuffer) estimateSize() int {
	const overhead = 256

	size := overhead + len(b.key)
	for _, m := range b.messages {
		size += m.EstimateSize()
	}
	return size
}

// conversationEntry is everything the store keeps for one key: at most one
// open buffer still accepting messages, and a FIFO of handed-off buffers.
// Only the head of the FIFO is ever being processed.
type conversationEntry struct {
	open     *conversationBuffer
	inflight []*conversationBuffer
}

func (e *conversationEntry) empty() bool {
	return e.open == nil && len(e.inflight) == 0
}

func (e *conversationEntry) head() *conversationBuffer {
	if len(e.inflight) == 0 {
		return nil
	}
	return e.inflight[0]
}

// buffers returns the in-flight buffers followed by the open one.
func (e *conversationEntry) buffers() []*conversationBuffer {
	out := make([]*conversationBuffer, 0, len(e.inflight)+1)
	out = append(out, e.inflight...)
	if e.open != nil {
		out = append(out, e.open)
	}
	return out
}

// detach removes b by identity and reports whether it was the FIFO head.
func (e *conversationEntry) detach(b *conversationBuffer) (wasHead bool) {
	if e.open == b {
		e.open = nil
		return false
	}
	for i, cur := range e.inflight {
		if cur == b {
			e.inflight = append(e.inflight[:i], e.inflight[i+1:]...)
			return i == 0
		}
	}
	return false
}

type shard struct {
	mu      sync.Mutex
	entries map[message.Key]*conversationEntry
}

// get returns the entry for key or nil. Caller holds mu.
func (s *shard) get(key message.Key) *conversationEntry {
	return s.entries[key]
}

// getOrCreate returns the entry for key, creating it. Caller holds mu.
func (s *shard) getOrCreate(key message.Key) *conversationEntry {
	e, ok := s.entries[key]
	if !ok {
		e = &conversationEntry{}
		s.entries[key] = e
	}
	return e
}

// removeIfEmpty drops the entry for key once it holds no buffers. Caller holds mu.
func (s *shard) removeIfEmpty(key message.Key) {
	if e, ok := s.entries[key]; ok && e.empty() {
		delete(s.entries, key)
	}
}

// store maps conversation keys to their buffers. Keys are spread over
// independently locked shards so unrelated conversations rarely contend.
type store struct {
	shards [shardCount]*shard
}

func newStore() *store {
	s := &store{}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[message.Key]*conversationEntry)}
	}
	return s
}

func (s *store) shardFor(key message.Key) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// keys returns a snapshot of all keys currently held.
func (s *store) keys() []message.Key {
	var keys []message.Key
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k := range sh.entries {
			keys = append(keys, k)
		}
		sh.mu.Unlock()
	}
	return keys
}

// each calls fn for every entry, one shard lock at a time.
func (s *store) each(fn func(key message.Key, e *conversationEntry)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			fn(k, e)
		}
		sh.mu.Unlock()
	}
}

// clear empties every shard and passes each removed buffer to fn under the
// shard lock.
func (s *store) clear(fn func(b *conversationBuffer)) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.entries {
			for _, b := range e.buffers() {
				fn(b)
			}
			delete(sh.entries, k)
		}
		sh.mu.Unlock()
	}
}
