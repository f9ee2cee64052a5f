package stream

import "sync/atomic"

// Global counters for pipeline health. backpressure_waits counts pushes that
// found their downstream FIFO full.
var (
    wordsIn           atomic.Uint64 // packed words read by the unpacker
    wordsOut          atomic.Uint64 // packed words written by the packer
    vecsResized       atomic.Uint64 // vectors emitted by resizers
    vecsBlurred       atomic.Uint64 // vectors emitted by blurs
    framesDone        atomic.Uint64
    framesFailed      atomic.Uint64
    backpressureWaits atomic.Uint64
)

// ResetCounters resets all metrics to zero.
func ResetCounters() {
    wordsIn.Store(0)
    wordsOut.Store(0)
    vecsResized.Store(0)
    vecsBlurred.Store(0)
    framesDone.Store(0)
    framesFailed.Store(0)
    backpressureWaits.Store(0)
}

// GetCounters returns a snapshot of current metrics.
func GetCounters() map[string]uint64 {
    return map[string]uint64{
        "words_in":           wordsIn.Load(),
        "words_out":          wordsOut.Load(),
        "vecs_resized":       vecsResized.Load(),
        "vecs_blurred":       vecsBlurred.Load(),
        "frames_done":        framesDone.Load(),
        "frames_failed":      framesFailed.Load(),
        "backpressure_waits": backpressureWaits.Load(),
    }
}

func incWordsIn()      { wordsIn.Add(1) }
func incWordsOut()     { wordsOut.Add(1) }
func incFramesDone()   { framesDone.Add(1) }
func incFramesFailed() { framesFailed.Add(1) }
func incBackpressure() { backpressureWaits.Add(1) }
func addVecsResized(n int) {
    if n > 0 { vecsResized.Add(uint64(n)) }
}
func addVecsBlurred(n int) {
    if n > 0 { vecsBlurred.Add(uint64(n)) }
}
