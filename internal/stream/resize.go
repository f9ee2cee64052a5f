package stream

import "context"

// Fixed-point format for bilinear weights (Q16).
const (
    fracBits = 16
    fracOne  = 1 << fracBits
)

// ResizeDesc is the shape change applied to one plane.
type ResizeDesc struct {
    SrcW, SrcH int
    DstW, DstH int
}

// axisMap holds, for every output coordinate on one axis, the two source
// indices to blend and the Q16 weight of the second one.
type axisMap struct {
    i0, i1 []int
    frac   []uint32
}

// newAxisMap maps output coordinate o to source o*src/dst. The division is
// exact integer arithmetic so 1:1 maps land on whole samples with zero
// fraction. Indices past the edge clamp to src-1.
func newAxisMap(src, dst int) axisMap {
    m := axisMap{i0: make([]int, dst), i1: make([]int, dst), frac: make([]uint32, dst)}
    for o := 0; o < dst; o++ {
        num := o * src
        i0 := num / dst
        f := uint32(((num % dst) << fracBits) / dst)
        if i0 > src-1 { i0 = src - 1; f = 0 }
        m.i0[o] = i0
        m.i1[o] = min(i0+1, src-1)
        m.frac[o] = f
    }
    return m
}

// hblend computes the horizontal Q16 blend of one source row for every
// output column.
func hblend(src []uint8, xm axisMap, dst []uint32) {
    for x := range dst {
        f := xm.frac[x]
        dst[x] = uint32(src[xm.i0[x]])*(fracOne-f) + uint32(src[xm.i1[x]])*f
    }
}

// vblend blends two horizontally filtered rows with weight f on the second
// and rounds half up back to 8 bits.
func vblend(h0, h1 []uint32, f uint32, dst []uint8) {
    for x := range dst {
        acc := uint64(h0[x])*uint64(fracOne-f) + uint64(h1[x])*uint64(f)
        dst[x] = uint8((acc + 1<<(2*fracBits-1)) >> (2 * fracBits))
    }
}

// resizer keeps the horizontally filtered versions of the last two source
// rows read. Source rows arrive strictly in raster order and output rows
// only ever move forward, so two rows are all the window it needs.
type resizer struct {
    d      ResizeDesc
    xm, ym axisMap
    raw    []uint8
    win    [2][]uint32
    next   int // next source row to read
}

func newResizer(d ResizeDesc) *resizer {
    rz := &resizer{
        d:   d,
        xm:  newAxisMap(d.SrcW, d.DstW),
        ym:  newAxisMap(d.SrcH, d.DstH),
        raw: make([]uint8, d.SrcW),
    }
    for i := range rz.win {
        rz.win[i] = make([]uint32, d.DstW)
    }
    return rz
}

// row returns the filtered source row y, which must still be in the window.
func (rz *resizer) row(y int) []uint32 {
    return rz.win[y&1]
}

// advance reads source rows from in until row y is in the window.
func (rz *resizer) advance(ctx context.Context, in *FIFO, y int) error {
    for rz.next <= y {
        if err := readRow(ctx, in, rz.raw); err != nil { return err }
        hblend(rz.raw, rz.xm, rz.win[rz.next&1])
        rz.next++
    }
    return nil
}

// drain discards source rows that no output row needed.
func (rz *resizer) drain(ctx context.Context, in *FIFO) error {
    for ; rz.next < rz.d.SrcH; rz.next++ {
        if err := readRow(ctx, in, rz.raw); err != nil { return err }
    }
    return nil
}

// Resize streams one plane of d.SrcH rows by d.SrcW columns from in and
// pushes the bilinearly resampled d.DstH by d.DstW plane to out in raster
// order.
func Resize(ctx context.Context, in, out *FIFO, d ResizeDesc, lanes int) error {
    rz := newResizer(d)
    line := make([]uint8, d.DstW)
    for oy := 0; oy < d.DstH; oy++ {
        y0, y1 := rz.ym.i0[oy], rz.ym.i1[oy]
        if err := rz.advance(ctx, in, y1); err != nil { return err }
        vblend(rz.row(y0), rz.row(y1), rz.ym.frac[oy], line)
        if err := writeRow(ctx, out, line, lanes); err != nil { return err }
        addVecsResized(d.DstW / lanes)
    }
    return rz.drain(ctx, in)
}
