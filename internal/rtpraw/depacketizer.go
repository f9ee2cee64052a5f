package rtpraw

import (
    "encoding/binary"
    "fmt"

    "github.com/pion/rtp"
)

// Depacketizer reassembles frames of a fixed size from raw video packets.
// Segments that never arrive stay black; Lost reports how many packets the
// sequence numbers say went missing. Late packets fill in their frame if it
// is still open and are dropped otherwise.
type Depacketizer struct {
    w, h    int
    frame   []byte
    ts      uint32
    started bool
    lastSeq uint32
    haveSeq bool
    lost    uint64
    partial uint64
}

// NewDepacketizer expects frames of w x h pixels.
func NewDepacketizer(w, h int) *Depacketizer {
    return &Depacketizer{w: w, h: h}
}

// Lost returns the number of packets skipped in the sequence so far.
func (d *Depacketizer) Lost() uint64 { return d.lost }

// Abandoned returns the number of frames dropped because a new timestamp
// started before their marker packet arrived.
func (d *Depacketizer) Abandoned() uint64 { return d.partial }

// Push feeds one packet. When pkt closes a frame the frame is returned with
// done set; the returned slice is owned by the caller.
func (d *Depacketizer) Push(pkt *rtp.Packet) ([]byte, bool, error) {
    pl := pkt.Payload
    if len(pl) < payloadHdrLen {
        return nil, false, fmt.Errorf("%w: %d byte payload", ErrPayload, len(pl))
    }
    seq := uint32(binary.BigEndian.Uint16(pl[0:]))<<16 | uint32(pkt.SequenceNumber)
    if d.haveSeq && seq <= d.lastSeq {
        // reordered or duplicate; only useful while its frame is still open
        if !d.started || pkt.Timestamp != d.ts {
            return nil, false, nil
        }
    } else {
        if d.haveSeq && seq > d.lastSeq+1 {
            d.lost += uint64(seq - d.lastSeq - 1)
        }
        d.lastSeq, d.haveSeq = seq, true
    }

    if d.started && pkt.Timestamp != d.ts {
        // marker of the previous frame was lost
        d.partial++
        d.started = false
    }
    if !d.started {
        d.frame = make([]byte, d.w*d.h*bytesPerPixel)
        d.ts = pkt.Timestamp
        d.started = true
    }

    length := int(binary.BigEndian.Uint16(pl[2:]))
    line := int(binary.BigEndian.Uint16(pl[4:]) & 0x7fff)
    offset := int(binary.BigEndian.Uint16(pl[6:]) & 0x7fff)
    data := pl[payloadHdrLen:]
    if length%bytesPerPixel != 0 || length > len(data) || line >= d.h || offset+length/bytesPerPixel > d.w {
        return nil, false, fmt.Errorf("%w: line %d offset %d length %d", ErrPayload, line, offset, length)
    }
    copy(d.frame[(line*d.w+offset)*bytesPerPixel:], data[:length])

    if !pkt.Marker {
        return nil, false, nil
    }
    out := d.frame
    d.frame = nil
    d.started = false
    return out, true, nil
}
