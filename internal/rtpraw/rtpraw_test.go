package rtpraw

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/pion/rtp"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func gradient(w, h int) []byte {
    b := make([]byte, w*h*3)
    for i := range b {
        b[i] = byte(i * 13)
    }
    return b
}

func TestPacketizeRoundTrip(t *testing.T) {
    const w, h = 640, 4
    frame := gradient(w, h)
    pz := &Packetizer{SSRC: 7, PayloadType: 96, MTU: 500}
    pkts, err := pz.Packetize(frame, w, h, 9000)
    require.NoError(t, err)

    // 500 byte MTU leaves room for 160 pixels per packet
    require.Len(t, pkts, 4*h)
    for i, p := range pkts {
        buf, err := p.Marshal()
        require.NoError(t, err)
        assert.LessOrEqual(t, len(buf), 500)
        assert.Equal(t, i == len(pkts)-1, p.Marker, "packet %d", i)
    }

    d := NewDepacketizer(w, h)
    var got []byte
    for i, p := range pkts {
        buf, _ := p.Marshal()
        var parsed rtp.Packet
        require.NoError(t, parsed.Unmarshal(buf))
        out, done, err := d.Push(&parsed)
        require.NoError(t, err)
        assert.Equal(t, i == len(pkts)-1, done)
        if done { got = out }
    }
    assert.Equal(t, frame, got)
    assert.Zero(t, d.Lost())
}

func TestSequenceContinuesAcrossFrames(t *testing.T) {
    pz := NewPacketizer(1)
    a, err := pz.Packetize(gradient(8, 2), 8, 2, 0)
    require.NoError(t, err)
    b, err := pz.Packetize(gradient(8, 2), 8, 2, 3000)
    require.NoError(t, err)
    assert.Equal(t, a[len(a)-1].SequenceNumber+1, b[0].SequenceNumber)
}

func TestDepacketizerLoss(t *testing.T) {
    const w, h = 16, 3
    frame := gradient(w, h)
    pkts, err := NewPacketizer(1).Packetize(frame, w, h, 0)
    require.NoError(t, err)
    require.Len(t, pkts, h)

    d := NewDepacketizer(w, h)
    _, _, err = d.Push(pkts[0])
    require.NoError(t, err)
    out, done, err := d.Push(pkts[2])
    require.NoError(t, err)
    require.True(t, done)
    assert.Equal(t, uint64(1), d.Lost())
    assert.Equal(t, frame[:w*3], out[:w*3])
    assert.Equal(t, make([]byte, w*3), out[w*3:2*w*3], "missing line stays black")
}

func TestDepacketizerReordered(t *testing.T) {
    const w, h = 16, 4
    frame := gradient(w, h)
    pz := NewPacketizer(1)
    pkts, err := pz.Packetize(frame, w, h, 0)
    require.NoError(t, err)
    require.Len(t, pkts, h)

    d := NewDepacketizer(w, h)
    var out []byte
    for _, i := range []int{0, 2, 1, 3} {
        got, done, err := d.Push(pkts[i])
        require.NoError(t, err)
        if done { out = got }
    }
    assert.Equal(t, frame, out)
    // the gap before packet 2 is counted once, then filled by the late packet
    assert.Equal(t, uint64(1), d.Lost())

    // a straggler from the finished frame neither opens nor abandons one
    _, done, err := d.Push(pkts[1])
    require.NoError(t, err)
    assert.False(t, done)
    next, err := pz.Packetize(frame, w, h, 3000)
    require.NoError(t, err)
    for _, p := range next {
        out, done, err = d.Push(p)
        require.NoError(t, err)
    }
    assert.True(t, done)
    assert.Equal(t, frame, out)
    assert.Equal(t, uint64(1), d.Lost())
    assert.Zero(t, d.Abandoned())
}

func TestDepacketizerAbandonsFrameWithoutMarker(t *testing.T) {
    pz := NewPacketizer(1)
    first, _ := pz.Packetize(gradient(4, 2), 4, 2, 100)
    second, _ := pz.Packetize(gradient(4, 2), 4, 2, 200)
    d := NewDepacketizer(4, 2)
    _, _, err := d.Push(first[0])
    require.NoError(t, err)
    for _, p := range second {
        _, _, err = d.Push(p)
        require.NoError(t, err)
    }
    assert.Equal(t, uint64(1), d.Abandoned())
    assert.Equal(t, uint64(1), d.Lost())
}

func TestDepacketizerRejectsBadSegments(t *testing.T) {
    d := NewDepacketizer(4, 2)
    _, _, err := d.Push(&rtp.Packet{Payload: []byte{0, 0}})
    assert.ErrorIs(t, err, ErrPayload)

    pkts, _ := NewPacketizer(1).Packetize(gradient(8, 8), 8, 8, 0)
    _, _, err = d.Push(pkts[len(pkts)-1]) // line 7 in a 2-line frame
    assert.ErrorIs(t, err, ErrPayload)
}

func TestPacketizeErrors(t *testing.T) {
    _, err := NewPacketizer(1).Packetize(make([]byte, 5), 2, 2, 0)
    assert.ErrorIs(t, err, ErrFrameSize)
    _, err = (&Packetizer{MTU: 21}).Packetize(gradient(2, 2), 2, 2, 0)
    assert.ErrorIs(t, err, ErrMTU)
}

type recorder struct {
    mu     sync.Mutex
    frames []Frame
    block  chan struct{}
    calls  atomic.Int32
}

func (r *recorder) WriteFrame(f Frame) error {
    r.calls.Add(1)
    if r.block != nil { <-r.block }
    r.mu.Lock()
    r.frames = append(r.frames, f)
    r.mu.Unlock()
    return nil
}

func (r *recorder) count() int {
    r.mu.Lock()
    defer r.mu.Unlock()
    return len(r.frames)
}

type failingWriter struct{ calls atomic.Int32 }

func (f *failingWriter) WriteFrame(Frame) error {
    f.calls.Add(1)
    return errors.New("closed")
}

func TestBroadcasterFanOut(t *testing.T) {
    for _, tc := range []struct {
        depth     int
        delivered int
    }{
        {0, 1 + DefaultTapQueue},
        {2, 3},
    } {
        t.Run(fmt.Sprintf("depth %d", tc.depth), func(t *testing.T) {
            b := NewBroadcaster(tc.depth)
            defer b.Close()
            fast := &recorder{}
            slow := &recorder{block: make(chan struct{})}
            b.Add(fast)
            removeSlow := b.Add(slow)
            assert.Equal(t, 2, b.Len())

            for i := 0; i < 10; i++ {
                b.WriteFrame(Frame{W: 1, H: 1, Pix: []byte{1, 2, 3}, Timestamp: uint32(i)})
                require.Eventually(t, func() bool { return fast.count() == i+1 }, time.Second, time.Millisecond)
                if i == 0 {
                    require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, time.Millisecond)
                }
            }
            // slow tap holds one frame in flight plus a full queue
            assert.Equal(t, uint64(10-tc.delivered), b.Dropped())
            close(slow.block)
            require.Eventually(t, func() bool { return slow.count() == tc.delivered }, time.Second, time.Millisecond)

            removeSlow()
            removeSlow()
            assert.Equal(t, 1, b.Len())
            assert.Equal(t, 1, b.WriteFrame(Frame{}))
        })
    }
}

func TestBroadcasterCountsFailedWrites(t *testing.T) {
    b := NewBroadcaster(1)
    defer b.Close()
    w := &failingWriter{}
    b.Add(w)
    assert.Equal(t, 1, b.WriteFrame(Frame{}))
    require.Eventually(t, func() bool { return b.Failed() == 1 }, time.Second, time.Millisecond)
    assert.Zero(t, b.Dropped())
}

func TestUDPLoopback(t *testing.T) {
    pc, err := net.ListenPacket("udp", "127.0.0.1:0")
    require.NoError(t, err)
    defer pc.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    frames := make(chan []byte, 1)
    errc := make(chan error, 1)
    go func() {
        errc <- Receive(ctx, pc, NewDepacketizer(32, 8), func(f []byte) error {
            frames <- f
            cancel()
            return nil
        })
    }()

    sink, err := DialUDP(pc.LocalAddr().String())
    require.NoError(t, err)
    defer sink.Close()
    frame := gradient(32, 8)
    require.NoError(t, sink.WriteFrame(Frame{Pix: frame, W: 32, H: 8, Timestamp: 1}))
    assert.Equal(t, uint64(8), sink.Sent())

    select {
    case got := <-frames:
        assert.Equal(t, frame, got)
    case <-time.After(5 * time.Second):
        t.Fatal("no frame received")
    }
    assert.ErrorIs(t, <-errc, context.Canceled)
}
