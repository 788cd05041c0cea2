package buffer

import (
	"time"

	"github.com/jittakal/convbuffer/pkg/message"
)

type contentClass uint8

const (
	classText contentClass = 1 << iota
	classImage
	classOther
)

// classify returns the content classes of a message. A captioned image is
// both text and image; a message with neither (audio, sticker, ...) is other.
func classify(msg message.BufferedMessage) contentClass {
	var c contentClass
	if msg.HasText() {
		c |= classText
	}
	if msg.HasImage() {
		c |= classImage
	}
	if c == 0 {
		c = classOther
	}
	return c
}

// shouldCombine decides whether msg belongs in the open buffer b or whether
// b must be flushed first. Rules, first match wins:
//
//  1. empty buffer: combine
//  2. gap since the last message above maxGap: split
//  3. images buffered, plain text arrives: combine (caption after photo)
//  4. text buffered, a bare image arrives: combine
//  5. otherwise combine only when the content classes overlap
func shouldCombine(b *conversationBuffer, msg message.BufferedMessage, now time.Time, maxGap time.Duration) bool {
	if len(b.messages) == 0 {
		return true
	}
	if now.Sub(b.lastUpdated) > maxGap {
		return false
	}

	incoming := classify(msg)
	var buffered contentClass
	for _, m := range b.messages {
		buffered |= classify(m)
	}

	if buffered&classImage != 0 && incoming == classText {
		return true
	}
	if buffered&classText != 0 && incoming == classImage {
		return true
	}
	return buffered&incoming != 0
}
