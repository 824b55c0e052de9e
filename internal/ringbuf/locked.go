package ringbuf

import "sync"

// Locked serializes access to a Buffer with a mutex so a producer and a consumer can share
// it from different goroutines.
type Locked struct {
	mu  sync.Mutex
	buf *Buffer
}

// NewLocked allocates a Buffer of the given capacity and guards it.
func NewLocked(capacity int) (*Locked, error) {
	b, err := New(capacity)
	if err != nil {
		return nil, err
	}
	return Guard(b), nil
}

// Guard wraps b. The caller must not use b directly afterwards.
func Guard(b *Buffer) *Locked {
	return &Locked{buf: b}
}

// Do runs fn with exclusive access to the underlying buffer. fn must not retain b.
func (l *Locked) Do(fn func(b *Buffer)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.buf)
}

func (l *Locked) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *Locked) SafeWrite(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.SafeWrite(p)
}

func (l *Locked) Pop(n int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Pop(n)
}

func (l *Locked) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Read(p)
}

func (l *Locked) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Clear()
}

func (l *Locked) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Release()
}

func (l *Locked) Cap() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Cap()
}

func (l *Locked) UsedSpace() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.UsedSpace()
}

func (l *Locked) AvailableSpace() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.AvailableSpace()
}

func (l *Locked) DistToEnd() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.DistToEnd()
}
