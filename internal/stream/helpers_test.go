package stream

import (
    "context"
    "math/rand"
    "testing"

    "github.com/stretchr/testify/require"
)

func randomBytes(n int, seed int64) []byte {
    rng := rand.New(rand.NewSource(seed))
    b := make([]byte, n)
    rng.Read(b)
    return b
}

func randomPlane(w, h int, seed int64) *Plane {
    p := NewPlane(w, h)
    copy(p.Pix, randomBytes(w*h, seed))
    return p
}

func constPlane(w, h int, v uint8) *Plane {
    p := NewPlane(w, h)
    for i := range p.Pix {
        p.Pix[i] = v
    }
    return p
}

// feedPlane pushes p into f as lane vectors from a separate goroutine.
func feedPlane(ctx context.Context, t *testing.T, f *FIFO, p *Plane, lanes int) <-chan error {
    t.Helper()
    done := make(chan error, 1)
    go func() {
        for y := 0; y < p.H; y++ {
            if err := writeRow(ctx, f, p.Row(y), lanes); err != nil {
                done <- err
                return
            }
        }
        done <- nil
    }()
    return done
}

// collectPlane pops a w x h plane out of f.
func collectPlane(ctx context.Context, t *testing.T, f *FIFO, w, h int) *Plane {
    t.Helper()
    p := NewPlane(w, h)
    for y := 0; y < h; y++ {
        require.NoError(t, readRow(ctx, f, p.Row(y)))
    }
    return p
}

// runResize streams src through Resize and returns the output plane.
func runResize(t *testing.T, src *Plane, dw, dh, lanes int) *Plane {
    t.Helper()
    ctx := context.Background()
    in, out := NewFIFO(DefaultDepth), NewFIFO(DefaultDepth)
    fed := feedPlane(ctx, t, in, src, lanes)
    errc := make(chan error, 1)
    go func() {
        errc <- Resize(ctx, in, out, ResizeDesc{SrcW: src.W, SrcH: src.H, DstW: dw, DstH: dh}, lanes)
    }()
    got := collectPlane(ctx, t, out, dw, dh)
    require.NoError(t, <-errc)
    require.NoError(t, <-fed)
    return got
}

// runBlur streams src through Blur and returns the output plane.
func runBlur(t *testing.T, src *Plane, lanes int, k Kernel, renorm bool) *Plane {
    t.Helper()
    ctx := context.Background()
    in, out := NewFIFO(DefaultDepth), NewFIFO(DefaultDepth)
    fed := feedPlane(ctx, t, in, src, lanes)
    errc := make(chan error, 1)
    go func() {
        errc <- Blur(ctx, in, out, src.H, src.W, lanes, k, renorm)
    }()
    got := collectPlane(ctx, t, out, src.W, src.H)
    require.NoError(t, <-errc)
    require.NoError(t, <-fed)
    return got
}
