package rtpraw

import (
    "sync"
    "sync/atomic"
)

// DefaultTapQueue is the per-tap queue depth when none is configured.
const DefaultTapQueue = 4

// Frame is one finished output image handed to taps.
type Frame struct {
    Pix       []byte
    W, H      int
    Timestamp uint32
}

// FrameWriter is anything that can take a finished frame.
type FrameWriter interface {
    WriteFrame(Frame) error
}

// Broadcaster hands every finished frame to a set of taps. Each tap drains its
// own queue on its own goroutine, so a stalled receiver only loses frames for
// itself and never holds up the pipeline.
type Broadcaster struct {
    depth   int
    mu      sync.RWMutex
    taps    []*tap
    dropped atomic.Uint64
    failed  atomic.Uint64
}

type tap struct {
    w     FrameWriter
    queue chan Frame
    done  chan struct{}
}

// NewBroadcaster gives every tap a queue of depth frames; depth <= 0 means
// DefaultTapQueue.
func NewBroadcaster(depth int) *Broadcaster {
    if depth <= 0 { depth = DefaultTapQueue }
    return &Broadcaster{depth: depth}
}

// Add starts a worker for w and returns a function that stops it. Frames
// still queued for w when it is removed are discarded.
func (b *Broadcaster) Add(w FrameWriter) (remove func()) {
    t := &tap{w: w, queue: make(chan Frame, b.depth), done: make(chan struct{})}
    go b.drain(t)
    b.mu.Lock()
    b.taps = append(b.taps, t)
    b.mu.Unlock()
    return func() { b.remove(t) }
}

func (b *Broadcaster) drain(t *tap) {
    for {
        select {
        case f := <-t.queue:
            if err := t.w.WriteFrame(f); err != nil { b.failed.Add(1) }
        case <-t.done:
            return
        }
    }
}

func (b *Broadcaster) remove(t *tap) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for i, x := range b.taps {
        if x == t {
            close(t.done)
            b.taps = append(b.taps[:i], b.taps[i+1:]...)
            return
        }
    }
}

// Len returns the number of taps.
func (b *Broadcaster) Len() int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return len(b.taps)
}

// Dropped counts frames skipped because a tap's queue was full.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }

// Failed counts frames a tap accepted but could not write.
func (b *Broadcaster) Failed() uint64 { return b.failed.Load() }

// WriteFrame queues f on every tap and reports how many took it.
func (b *Broadcaster) WriteFrame(f Frame) int {
    accepted := 0
    b.mu.RLock()
    for _, t := range b.taps {
        select {
        case t.queue <- f:
            accepted++
        default:
            b.dropped.Add(1)
        }
    }
    b.mu.RUnlock()
    return accepted
}

// Close stops every tap worker.
func (b *Broadcaster) Close() {
    b.mu.Lock()
    for _, t := range b.taps { close(t.done) }
    b.taps = nil
    b.mu.Unlock()
}
