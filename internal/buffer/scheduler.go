package buffer

import "time"

// timerSlot is a buffer's single pending timer: either its debounce timer
// while active or its retry timer while backing off.
//
// Every arm or cancel bumps the generation. A timer callback carries the
// generation it was armed with and is ignored unless it still matches, which
// covers timers that fire concurrently with Stop. All methods require the
// shard lock.
type timerSlot struct {
	timer *time.Timer
	gen   uint64
}

// arm replaces any pending timer with one calling fire after delay.
func (t *timerSlot) arm(delay time.Duration, fire func(gen uint64)) {
	t.cancel()
	gen := t.gen
	t.timer = time.AfterFunc(delay, func() { fire(gen) })
}

// cancel stops the pending timer, if any, and invalidates its generation.
func (t *timerSlot) cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// consume reports whether gen is the pending timer and clears the slot if so.
func (t *timerSlot) consume(gen uint64) bool {
	if t.timer == nil || t.gen != gen {
		return false
	}
	t.timer = nil
	return true
}

func (t *timerSlot) armed() bool {
	return t.timer != nil
}
