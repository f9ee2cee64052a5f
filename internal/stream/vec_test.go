package stream

import (
    "bytes"
    "context"
    "errors"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "golang.org/x/sync/errgroup"
)

func TestSplitWordByteOffsets(t *testing.T) {
    word := []byte{1, 2, 3, 11, 12, 13, 21, 22, 23, 31, 32, 33}
    r, g, b := SplitWord(word)
    assert.Equal(t, Vec{1, 11, 21, 31}, r)
    assert.Equal(t, Vec{2, 12, 22, 32}, g)
    assert.Equal(t, Vec{3, 13, 23, 33}, b)

    back := make([]byte, len(word))
    JoinWord(back, r, g, b)
    assert.Equal(t, word, back)
}

func unpackPack(t *testing.T, frame []byte, w, h, lanes, depth int) []byte {
    t.Helper()
    var split [3]*FIFO
    for c := range split {
        split[c] = NewFIFO(depth)
    }
    var out bytes.Buffer
    g, ctx := errgroup.WithContext(context.Background())
    g.Go(func() error { return Unpack(ctx, bytes.NewReader(frame), h, w, lanes, split) })
    g.Go(func() error { return Pack(ctx, split, &out, h, w, lanes) })
    require.NoError(t, g.Wait())
    return out.Bytes()
}

func TestUnpackPackRoundTrip(t *testing.T) {
    cases := []struct {
        name        string
        w, h, lanes int
        depth       int
    }{
        {"lanes1", 5, 3, 1, 1},
        {"lanes8", 64, 9, 8, 8},
        {"lanes16 shallow", 32, 17, 16, 2},
        {"lanes64", 128, 4, 64, 8},
    }
    for i, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            frame := randomBytes(tc.w*tc.h*3, int64(i))
            got := unpackPack(t, frame, tc.w, tc.h, tc.lanes, tc.depth)
            assert.Equal(t, frame, got)
        })
    }
}

func TestUnpackShortInput(t *testing.T) {
    var split [3]*FIFO
    for c := range split {
        split[c] = NewFIFO(64)
    }
    frame := randomBytes(8*2*3-5, 1)
    err := Unpack(context.Background(), bytes.NewReader(frame), 2, 8, 8, split)
    require.Error(t, err)
    assert.True(t, errors.Is(err, ErrShortInput))
    // the complete first word made it through
    assert.Equal(t, 1, split[0].Len())
}

func TestFIFOBlocksWhenFull(t *testing.T) {
    f := NewFIFO(2)
    ctx := context.Background()
    require.NoError(t, f.Push(ctx, Vec{1}))
    require.NoError(t, f.Push(ctx, Vec{2}))
    assert.Equal(t, 2, f.Cap())

    cctx, cancel := context.WithCancel(ctx)
    cancel()
    err := f.Push(cctx, Vec{3})
    assert.ErrorIs(t, err, context.Canceled)

    v, err := f.Pop(ctx)
    require.NoError(t, err)
    assert.Equal(t, Vec{1}, v)
    v, err = f.Pop(ctx)
    require.NoError(t, err)
    assert.Equal(t, Vec{2}, v)

    _, err = f.Pop(cctx)
    assert.ErrorIs(t, err, context.Canceled)
}

func TestFIFOCountsBackpressure(t *testing.T) {
    ResetCounters()
    f := NewFIFO(1)
    ctx := context.Background()
    require.NoError(t, f.Push(ctx, Vec{1}))
    done := make(chan error, 1)
    go func() { done <- f.Push(ctx, Vec{2}) }()
    // the second push can only finish after a pop
    require.Eventually(t, func() bool {
        return GetCounters()["backpressure_waits"] > 0
    }, time.Second, time.Millisecond)
    _, err := f.Pop(ctx)
    require.NoError(t, err)
    require.NoError(t, <-done)
    v, err := f.Pop(ctx)
    require.NoError(t, err)
    assert.Equal(t, Vec{2}, v)
}
