package stream

import (
    "bytes"
    "context"
    "fmt"
    "io"

    "golang.org/x/sync/errgroup"
)

// Config selects the stream geometry shared by every stage.
type Config struct {
    // Lanes is the number of pixels carried per vector and per packed word.
    Lanes int
    // Depth is the capacity of every inter-stage FIFO, in vectors.
    Depth int
    // EdgeRenormalize divides border outputs by the in-plane kernel weight
    // instead of letting the zero padding darken them.
    EdgeRenormalize bool
}

// Source produces packed RGB frames one after another.
type Source interface {
    // Next returns the next frame and false once the source is exhausted.
    Next() ([]byte, bool)
    Stop()
}

// Pipeline wires unpack -> 3x resize -> 3x blur -> pack through bounded
// FIFOs and drives one frame at a time through it.
type Pipeline struct {
    cfg Config
}

// NewPipeline fills in defaults for zero Lanes and Depth.
func NewPipeline(cfg Config) *Pipeline {
    if cfg.Lanes <= 0 { cfg.Lanes = DefaultLanes }
    if cfg.Depth <= 0 { cfg.Depth = DefaultDepth }
    return &Pipeline{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Validate checks prm against the limits and this pipeline's lane count.
func (p *Pipeline) Validate(prm Params) error {
    return prm.Validate(p.cfg.Lanes)
}

// Run streams one frame of packed words from r, writes the resized and
// blurred frame to w and returns once the last output word is written.
// All eight stages run concurrently; the first stage error cancels the rest.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, w io.Writer, prm Params) error {
    if err := p.Validate(prm); err != nil {
        return err
    }
    lanes := p.cfg.Lanes
    k := GaussianKernel(prm.Sigma)
    rd := prm.Resize()

    var split, resized, blurred [3]*FIFO
    for c := 0; c < 3; c++ {
        split[c] = NewFIFO(p.cfg.Depth)
        resized[c] = NewFIFO(p.cfg.Depth)
        blurred[c] = NewFIFO(p.cfg.Depth)
    }

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        return wrapStage("unpack", -1, Unpack(gctx, r, prm.HeightIn, prm.WidthIn, lanes, split))
    })
    for c := 0; c < 3; c++ {
        c := c
        g.Go(func() error {
            return wrapStage("resize", c, Resize(gctx, split[c], resized[c], rd, lanes))
        })
        g.Go(func() error {
            return wrapStage("blur", c, Blur(gctx, resized[c], blurred[c], prm.HeightOut, prm.WidthOut, lanes, k, p.cfg.EdgeRenormalize))
        })
    }
    g.Go(func() error {
        return wrapStage("pack", -1, Pack(gctx, blurred, w, prm.HeightOut, prm.WidthOut, lanes))
    })
    if err := g.Wait(); err != nil {
        incFramesFailed()
        return err
    }
    incFramesDone()
    return nil
}

// Process runs the pipeline over an in-memory frame.
func (p *Pipeline) Process(ctx context.Context, in []byte, prm Params) ([]byte, error) {
    if err := p.Validate(prm); err != nil {
        return nil, err
    }
    if len(in) != prm.InputBytes() {
        return nil, fmt.Errorf("%w: got %d bytes, want %d for %dx%d", ErrInputSize, len(in), prm.InputBytes(), prm.WidthIn, prm.HeightIn)
    }
    var out bytes.Buffer
    out.Grow(prm.OutputBytes())
    if err := p.Run(ctx, bytes.NewReader(in), &out, prm); err != nil {
        return nil, err
    }
    return out.Bytes(), nil
}

var channelNames = [3]string{"r", "g", "b"}

func wrapStage(stage string, ch int, err error) error {
    if err == nil { return nil }
    if ch >= 0 {
        return fmt.Errorf("%s[%s]: %w", stage, channelNames[ch], err)
    }
    return fmt.Errorf("%s: %w", stage, err)
}
