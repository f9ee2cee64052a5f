package stream

import (
    "errors"
    "fmt"
    "math"

    "golang.org/x/sys/cpu"
)

// Hard limits of the pipeline. Frames larger than 4k or scale ratios past
// MaxDownScale are rejected before any stage starts.
const (
    MaxWidth     = 3840
    MaxHeight    = 2160
    MaxDownScale = 7
    FilterWidth  = 7

    DefaultLanes = 8
    DefaultDepth = 8
    MaxLanes     = 64
)

var (
    ErrResolution = errors.New("resolution out of range")
    ErrAlignment  = errors.New("width not aligned to lane count")
    ErrScaleRatio = errors.New("scale ratio exceeds limit")
    ErrSigma      = errors.New("invalid sigma")
    ErrLanes      = errors.New("lane count must be a power of two in [1,64]")
    ErrShortInput = errors.New("input ended before the last pixel word")
    ErrInputSize  = errors.New("input size does not match declared resolution")
)

// Params describes one resize+blur job.
type Params struct {
    WidthIn, HeightIn   int
    WidthOut, HeightOut int
    Sigma               float64
}

// Resize returns the resize descriptor for p.
func (p Params) Resize() ResizeDesc {
    return ResizeDesc{SrcW: p.WidthIn, SrcH: p.HeightIn, DstW: p.WidthOut, DstH: p.HeightOut}
}

// InputBytes is the size of the packed input stream.
func (p Params) InputBytes() int { return p.WidthIn * p.HeightIn * 3 }

// OutputBytes is the size of the packed output stream.
func (p Params) OutputBytes() int { return p.WidthOut * p.HeightOut * 3 }

// Validate checks p against the pipeline limits for the given lane count.
func (p Params) Validate(lanes int) error {
    if err := validLanes(lanes); err != nil {
        return err
    }
    if err := checkDims("input", p.WidthIn, p.HeightIn); err != nil {
        return err
    }
    if err := checkDims("output", p.WidthOut, p.HeightOut); err != nil {
        return err
    }
    if p.WidthIn%lanes != 0 {
        return fmt.Errorf("%w: input width %d, lanes %d", ErrAlignment, p.WidthIn, lanes)
    }
    if p.WidthOut%lanes != 0 {
        return fmt.Errorf("%w: output width %d, lanes %d", ErrAlignment, p.WidthOut, lanes)
    }
    if err := checkRatio("horizontal", p.WidthIn, p.WidthOut); err != nil {
        return err
    }
    if err := checkRatio("vertical", p.HeightIn, p.HeightOut); err != nil {
        return err
    }
    if math.IsNaN(p.Sigma) || math.IsInf(p.Sigma, 0) || p.Sigma < 0 {
        return fmt.Errorf("%w: %v", ErrSigma, p.Sigma)
    }
    return nil
}

func checkDims(what string, w, h int) error {
    if w <= 0 || h <= 0 || w > MaxWidth || h > MaxHeight {
        return fmt.Errorf("%w: %s %dx%d, max %dx%d", ErrResolution, what, w, h, MaxWidth, MaxHeight)
    }
    return nil
}

// Both directions are capped: src <= 7*dst and dst <= 7*src.
func checkRatio(axis string, src, dst int) error {
    if src > MaxDownScale*dst || dst > MaxDownScale*src {
        return fmt.Errorf("%w: %s %d -> %d, max %dx", ErrScaleRatio, axis, src, dst, MaxDownScale)
    }
    return nil
}

func validLanes(lanes int) error {
    if lanes < 1 || lanes > MaxLanes || lanes&(lanes-1) != 0 {
        return fmt.Errorf("%w: got %d", ErrLanes, lanes)
    }
    return nil
}

// AlignWidth returns the multiple of lanes nearest to n. Ties go up and the
// result is never below lanes.
func AlignWidth(n, lanes int) int {
    if lanes <= 1 {
        return max(n, 1)
    }
    q := n / lanes
    n1 := lanes * q
    n2 := lanes * (q + 1)
    out := n2
    if n-n1 < n2-n {
        out = n1
    }
    if out < lanes {
        out = lanes
    }
    return out
}

// PreferredLanes is the lane count matching the widest SIMD unit of the host.
func PreferredLanes() int {
    switch {
    case cpu.X86.HasAVX512F:
        return 16
    case cpu.X86.HasAVX2:
        return 8
    }
    return 4
}

// AutoLanes picks the largest power of two not above PreferredLanes that
// divides width.
func AutoLanes(width int) int {
    l := PreferredLanes()
    for l > 1 && width%l != 0 {
        l >>= 1
    }
    return l
}
