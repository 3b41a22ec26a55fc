package studio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("frame bus closed")

// FrameBusStats is a point-in-time snapshot of bus activity.
type FrameBusStats struct {
	Published   uint64 // Frames offered to subscribers
	Dropped     uint64 // Per-subscriber deliveries lost to full buffers
	Subscribers int
}

// FrameBus fans composited frames out to independent consumers.
// Publish never blocks: a subscriber whose buffer is full loses the
// new frame, so a slow consumer (preview, recorder, live pipeline)
// cannot stall the render loop or its peers. Published frames are
// shared; subscribers must treat them as read-only.
type FrameBus struct {
	mu     sync.RWMutex
	subs   map[string]chan *VideoFrame
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewFrameBus creates an empty bus.
func NewFrameBus() *FrameBus {
	return &FrameBus{subs: make(map[string]chan *VideoFrame)}
}

// Subscribe registers a named consumer with its own buffer. depth <= 0
// defaults to 2 frames.
func (b *FrameBus) Subscribe(name string, depth int) (<-chan *VideoFrame, error) {
	if depth <= 0 {
		depth = 2
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.subs[name]; ok {
		return nil, fmt.Errorf("frame bus: subscriber %q already registered", name)
	}

	ch := make(chan *VideoFrame, depth)
	b.subs[name] = ch
	return ch, nil
}

// Unsubscribe removes a consumer and closes its channel. Unknown names
// are ignored.
func (b *FrameBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[name]; ok {
		close(ch)
		delete(b.subs, name)
	}
}

// Publish offers a frame to every subscriber without blocking.
func (b *FrameBus) Publish(frame *VideoFrame) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
			b.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of bus counters.
func (b *FrameBus) Stats() FrameBusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()

	return FrameBusStats{
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
		Subscribers: n,
	}
}

// Close closes every subscriber channel. Idempotent; Publish after
// Close is a no-op.
func (b *FrameBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for name, ch := range b.subs {
		close(ch)
		delete(b.subs, name)
	}
}
