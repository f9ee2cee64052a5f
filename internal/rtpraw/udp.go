package rtpraw

import (
    "context"
    "errors"
    "fmt"
    "math/rand"
    "net"
    "sync"
    "sync/atomic"

    "github.com/pion/rtp"
)

// UDPSink packetizes frames and sends them to one UDP destination.
type UDPSink struct {
    addr string
    conn net.Conn
    pz   *Packetizer
    mu   sync.Mutex
    sent atomic.Uint64
}

// DialUDP opens a sink towards addr ("host:port").
func DialUDP(addr string) (*UDPSink, error) {
    conn, err := net.Dial("udp", addr)
    if err != nil {
        return nil, fmt.Errorf("rtp tap %s: %w", addr, err)
    }
    return &UDPSink{addr: addr, conn: conn, pz: NewPacketizer(rand.Uint32())}, nil
}

// Addr returns the destination address.
func (s *UDPSink) Addr() string { return s.addr }

// Sent returns the number of packets written so far.
func (s *UDPSink) Sent() uint64 { return s.sent.Load() }

// WriteFrame sends every packet of f. Frames are serialized so sequence
// numbers stay monotonic.
func (s *UDPSink) WriteFrame(f Frame) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    pkts, err := s.pz.Packetize(f.Pix, f.W, f.H, f.Timestamp)
    if err != nil { return err }
    for _, p := range pkts {
        buf, err := p.Marshal()
        if err != nil { return err }
        if _, err := s.conn.Write(buf); err != nil { return err }
        s.sent.Add(1)
    }
    return nil
}

// Close releases the socket.
func (s *UDPSink) Close() error { return s.conn.Close() }

// Receive reads packets from conn until ctx is done, feeding d and calling
// fn with each completed frame. Packets that fail to parse are skipped.
func Receive(ctx context.Context, conn net.PacketConn, d *Depacketizer, fn func([]byte) error) error {
    stop := make(chan struct{})
    defer close(stop)
    go func() {
        select {
        case <-ctx.Done():
            conn.Close()
        case <-stop:
        }
    }()
    buf := make([]byte, 64*1024)
    for {
        n, _, err := conn.ReadFrom(buf)
        if err != nil {
            if ctx.Err() != nil { return ctx.Err() }
            if errors.Is(err, net.ErrClosed) { return nil }
            return err
        }
        var pkt rtp.Packet
        if err := pkt.Unmarshal(buf[:n]); err != nil { continue }
        frame, done, err := d.Push(&pkt)
        if err != nil || !done { continue }
        if err := fn(frame); err != nil { return err }
    }
}
