package stream

import "context"

// FIFO is a bounded single-producer single-consumer queue of vectors
// connecting two adjacent stages. Push blocks while the queue is full and Pop
// blocks while it is empty; nothing is ever dropped.
type FIFO struct {
    ch chan Vec
}

// NewFIFO returns a FIFO holding at most depth vectors.
func NewFIFO(depth int) *FIFO {
    if depth <= 0 { depth = DefaultDepth }
    return &FIFO{ch: make(chan Vec, depth)}
}

// Cap reports the FIFO depth.
func (f *FIFO) Cap() int { return cap(f.ch) }

// Len reports how many vectors are queued right now.
func (f *FIFO) Len() int { return len(f.ch) }

// Push enqueues v, waiting for room. It fails only when ctx is done.
func (f *FIFO) Push(ctx context.Context, v Vec) error {
    select {
    case f.ch <- v:
        return nil
    default:
    }
    // queue full: record the stall, then wait for the consumer
    incBackpressure()
    select {
    case f.ch <- v:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Pop dequeues the oldest vector, waiting for one to arrive.
func (f *FIFO) Pop(ctx context.Context) (Vec, error) {
    select {
    case v := <-f.ch:
        return v, nil
    case <-ctx.Done():
        return nil, ctx.Err()
    }
}
