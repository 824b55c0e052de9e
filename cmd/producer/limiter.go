package main

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ttd2089/ring-staging-poc/internal/ringbuf"
)

const stampSize = 8

// A windowLimiter allows at most n sends in any sliding window. It keeps the timestamps of
// the last n sends as fixed-width records in a ring buffer, so the oldest record is always
// at the front.
type windowLimiter struct {
	window time.Duration
	sends  *ringbuf.Buffer

	// oldest has been popped from sends to make room for the next record but still counts
	// against the window until Record is called.
	oldest  time.Time
	holding bool

	stamp [stampSize]byte
}

func newWindowLimiter(n int, window time.Duration) (*windowLimiter, error) {
	if n <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", n)
	}
	sends, err := ringbuf.New(n * stampSize)
	if err != nil {
		return nil, err
	}
	return &windowLimiter{
		window: window,
		sends:  sends,
	}, nil
}

// Delay returns how long the caller must wait after now before its next send.
func (l *windowLimiter) Delay(now time.Time) time.Duration {
	if !l.holding && l.sends.IsFull() {
		record, err := l.sends.Pop(stampSize)
		if err != nil {
			panic(fmt.Errorf("pop from full limiter window: %w", err))
		}
		l.oldest = time.Unix(0, int64(binary.BigEndian.Uint64(record)))
		l.holding = true
	}
	if !l.holding {
		return 0
	}
	return max(0, l.oldest.Add(l.window).Sub(now))
}

// Record counts a send made at t. Delay must be called first whenever the window is full.
func (l *windowLimiter) Record(t time.Time) error {
	binary.BigEndian.PutUint64(l.stamp[:], uint64(t.UnixNano()))
	if _, err := l.sends.SafeWrite(l.stamp[:]); err != nil {
		return fmt.Errorf("record send: %w", err)
	}
	l.holding = false
	return nil
}
