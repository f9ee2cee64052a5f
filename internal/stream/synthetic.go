package stream

// synthetic generates a moving RGB gradient, one step per Next call.
type synthetic struct {
    w, h   int
    frames int // 0 means unbounded
    phase  int
    stop   bool
}

// NewSynthetic returns a Source of w x h gradient frames. It ends after
// frames frames, or never when frames is 0.
func NewSynthetic(w, h, frames int, seed int64) Source {
    return &synthetic{w: w, h: h, frames: frames, phase: int(seed % 256)}
}

func (s *synthetic) Next() ([]byte, bool) {
    if s.stop { return nil, false }
    if s.frames > 0 {
        if s.frames == 1 { s.stop = true }
        s.frames--
    }
    buf := Gradient(s.w, s.h, s.phase)
    s.phase += 4
    return buf, true
}

func (s *synthetic) Stop() { s.stop = true }

// Gradient fills a packed RGB frame with a diagonal test pattern shifted by
// phase.
func Gradient(w, h, phase int) []byte {
    buf := make([]byte, w*h*3)
    for y := 0; y < h; y++ {
        for x := 0; x < w; x++ {
            off := (y*w + x) * 3
            buf[off+0] = byte((x + phase*3) % 256)
            buf[off+1] = byte((y + phase*2) % 256)
            buf[off+2] = byte((x + y + phase) % 256)
        }
    }
    return buf
}
