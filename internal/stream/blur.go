package stream

import (
    "context"
    "math"
)

const (
    radius = FilterWidth / 2

    // Below this sigma the Gaussian underflows; the kernel becomes a unit
    // impulse and the blur an identity.
    minSigma = 1e-6
)

// Kernel is a normalized 1D Gaussian of FilterWidth taps, centre at index 3.
type Kernel [FilterWidth]float32

// GaussianKernel samples exp(-x²/2σ²) at x = -3..3 and normalizes the taps
// to sum to 1.
func GaussianKernel(sigma float64) Kernel {
    var k Kernel
    if !(sigma > minSigma) {
        k[radius] = 1
        return k
    }
    var w [FilterWidth]float64
    sum := 0.0
    for i := range w {
        x := float64(i - radius)
        w[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
        sum += w[i]
    }
    for i := range w {
        k[i] = float32(w[i] / sum)
    }
    return k
}

// Sum returns the total weight of the kernel.
func (k Kernel) Sum() float64 {
    s := 0.0
    for _, c := range k {
        s += float64(c)
    }
    return s
}

// hpass convolves one row with k. Samples outside [0,len(src)) count as 0.
// With renorm the result is divided by the weight that fell inside the row.
func hpass(src []uint8, k *Kernel, renorm bool, dst []float32) {
    n := len(src)
    for x := range dst {
        var acc, mass float32
        for j := -radius; j <= radius; j++ {
            xx := x + j
            if xx < 0 || xx >= n { continue }
            acc += k[j+radius] * float32(src[xx])
            mass += k[j+radius]
        }
        if renorm && mass > 0 { acc /= mass }
        dst[x] = acc
    }
}

// vpass combines the 7 filtered rows centred on the output row. A nil entry
// is a row outside the plane and contributes 0.
func vpass(rows *[FilterWidth][]float32, k *Kernel, renorm bool, dst []uint8) {
    var mass float32
    for i, r := range rows {
        if r != nil { mass += k[i] }
    }
    for x := range dst {
        var acc float32
        for i, r := range rows {
            if r == nil { continue }
            acc += k[i] * r[x]
        }
        if renorm && mass > 0 { acc /= mass }
        dst[x] = clampRound(acc)
    }
}

func clampRound(v float32) uint8 {
    r := int(v + 0.5)
    if r < 0 { return 0 }
    if r > 255 { return 255 }
    return uint8(r)
}

// blurWindow is the ring of horizontally filtered rows, indexed by row mod 7.
type blurWindow struct {
    rows int
    ring [FilterWidth][]float32
    taps [FilterWidth][]float32
}

func newBlurWindow(rows, cols int) *blurWindow {
    w := &blurWindow{rows: rows}
    for i := range w.ring {
        w.ring[i] = make([]float32, cols)
    }
    return w
}

// centred returns the window rows y-3..y+3, nil where outside the plane.
func (w *blurWindow) centred(y int) *[FilterWidth][]float32 {
    for i := range w.taps {
        yy := y + i - radius
        if yy < 0 || yy >= w.rows {
            w.taps[i] = nil
            continue
        }
        w.taps[i] = w.ring[yy%FilterWidth]
    }
    return &w.taps
}

// Blur streams a rows by cols plane from in through the separable 7x7
// Gaussian k and pushes the result to out. Output row y leaves as soon as
// input row y+3 (or the last row) has been filtered.
func Blur(ctx context.Context, in, out *FIFO, rows, cols, lanes int, k Kernel, renorm bool) error {
    win := newBlurWindow(rows, cols)
    raw := make([]uint8, cols)
    line := make([]uint8, cols)
    emit := func(y int) error {
        vpass(win.centred(y), &k, renorm, line)
        if err := writeRow(ctx, out, line, lanes); err != nil { return err }
        addVecsBlurred(cols / lanes)
        return nil
    }
    next := 0 // next output row
    for y := 0; y < rows; y++ {
        if err := readRow(ctx, in, raw); err != nil { return err }
        hpass(raw, &k, renorm, win.ring[y%FilterWidth])
        for ; next <= y-radius; next++ {
            if err := emit(next); err != nil { return err }
        }
    }
    for ; next < rows; next++ {
        if err := emit(next); err != nil { return err }
    }
    return nil
}
