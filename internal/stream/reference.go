package stream

import "fmt"

// Plane is a fully materialized single-channel raster. The streaming stages
// never build one; it exists for the full-frame reference path.
type Plane struct {
    W, H int
    Pix  []uint8
}

// NewPlane allocates a zeroed w x h plane.
func NewPlane(w, h int) *Plane {
    return &Plane{W: w, H: h, Pix: make([]uint8, w*h)}
}

// Row returns row y.
func (p *Plane) Row(y int) []uint8 {
    return p.Pix[y*p.W : (y+1)*p.W]
}

// SplitPlanes de-interleaves a packed RGB frame into three planes.
func SplitPlanes(rgb []byte, w, h int) [3]*Plane {
    out := [3]*Plane{NewPlane(w, h), NewPlane(w, h), NewPlane(w, h)}
    for i := 0; i < w*h; i++ {
        out[0].Pix[i] = rgb[i*3+0]
        out[1].Pix[i] = rgb[i*3+1]
        out[2].Pix[i] = rgb[i*3+2]
    }
    return out
}

// JoinPlanes interleaves three same-sized planes into a packed RGB frame.
func JoinPlanes(p [3]*Plane) []byte {
    w, h := p[0].W, p[0].H
    out := make([]byte, w*h*3)
    for i := 0; i < w*h; i++ {
        out[i*3+0] = p[0].Pix[i]
        out[i*3+1] = p[1].Pix[i]
        out[i*3+2] = p[2].Pix[i]
    }
    return out
}

// ResizePlane is the random-access equivalent of Resize.
func ResizePlane(src *Plane, dw, dh int) *Plane {
    dst := NewPlane(dw, dh)
    xm := newAxisMap(src.W, dw)
    ym := newAxisMap(src.H, dh)
    h0 := make([]uint32, dw)
    h1 := make([]uint32, dw)
    for oy := 0; oy < dh; oy++ {
        hblend(src.Row(ym.i0[oy]), xm, h0)
        hblend(src.Row(ym.i1[oy]), xm, h1)
        vblend(h0, h1, ym.frac[oy], dst.Row(oy))
    }
    return dst
}

// BlurPlane is the full-frame equivalent of Blur.
func BlurPlane(src *Plane, k Kernel, renorm bool) *Plane {
    dst := NewPlane(src.W, src.H)
    hrows := make([][]float32, src.H)
    for y := range hrows {
        hrows[y] = make([]float32, src.W)
        hpass(src.Row(y), &k, renorm, hrows[y])
    }
    var taps [FilterWidth][]float32
    for y := 0; y < src.H; y++ {
        for i := range taps {
            yy := y + i - radius
            taps[i] = nil
            if yy >= 0 && yy < src.H { taps[i] = hrows[yy] }
        }
        vpass(&taps, &k, renorm, dst.Row(y))
    }
    return dst
}

// ProcessFrame resizes and blurs a whole packed frame without streaming. It
// produces byte-identical output to Pipeline.Process and serves as its
// oracle. Lane alignment is not required here.
func ProcessFrame(rgb []byte, prm Params, renorm bool) ([]byte, error) {
    if err := prm.Validate(1); err != nil {
        return nil, err
    }
    if len(rgb) != prm.InputBytes() {
        return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInputSize, len(rgb), prm.InputBytes())
    }
    k := GaussianKernel(prm.Sigma)
    planes := SplitPlanes(rgb, prm.WidthIn, prm.HeightIn)
    for c := range planes {
        planes[c] = BlurPlane(ResizePlane(planes[c], prm.WidthOut, prm.HeightOut), k, renorm)
    }
    return JoinPlanes(planes), nil
}

// Mismatches counts differing bytes between two frames of equal length.
func Mismatches(a, b []byte) int {
    if len(a) != len(b) { return max(len(a), len(b)) }
    n := 0
    for i := range a {
        if a[i] != b[i] { n++ }
    }
    return n
}
