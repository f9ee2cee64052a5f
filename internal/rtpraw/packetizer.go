// Package rtpraw carries uncompressed RGB8 frames over RTP, using the
// RFC 4175 payload layout: a 2-byte extended sequence number followed by one
// line segment header and its pixels.
package rtpraw

import (
    "encoding/binary"
    "errors"
    "fmt"

    "github.com/pion/rtp"
)

const (
    // DefaultPayloadType is the dynamic payload type used for raw video.
    DefaultPayloadType = 96
    // DefaultMTU leaves room for IP/UDP headers on a 1500 byte link.
    DefaultMTU = 1400
    // ClockRate is the RTP video clock.
    ClockRate = 90000

    rtpHeaderLen   = 12
    extSeqLen      = 2
    segHeaderLen   = 6
    payloadHdrLen  = extSeqLen + segHeaderLen
    bytesPerPixel  = 3
    maxLineNumber  = 1<<15 - 1
    maxPixelOffset = 1<<15 - 1
)

var (
    ErrFrameSize = errors.New("frame size does not match dimensions")
    ErrMTU       = errors.New("mtu too small for one pixel")
    ErrPayload   = errors.New("malformed raw video payload")
)

// Packetizer splits packed RGB frames into RTP packets, one line segment
// per packet. It keeps the running sequence number between frames.
type Packetizer struct {
    SSRC        uint32
    PayloadType uint8
    MTU         int

    seq uint32
}

// NewPacketizer returns a packetizer with default payload type and MTU.
func NewPacketizer(ssrc uint32) *Packetizer {
    return &Packetizer{SSRC: ssrc, PayloadType: DefaultPayloadType, MTU: DefaultMTU}
}

// Packetize emits the packets for one w x h frame stamped with ts. The last
// packet of the frame carries the marker bit.
func (p *Packetizer) Packetize(frame []byte, w, h int, ts uint32) ([]*rtp.Packet, error) {
    if len(frame) != w*h*bytesPerPixel {
        return nil, fmt.Errorf("%w: %d bytes for %dx%d", ErrFrameSize, len(frame), w, h)
    }
    if h-1 > maxLineNumber || w-1 > maxPixelOffset {
        return nil, fmt.Errorf("%w: %dx%d exceeds 15-bit line/offset fields", ErrFrameSize, w, h)
    }
    mtu := p.MTU
    if mtu <= 0 { mtu = DefaultMTU }
    maxPix := (mtu - rtpHeaderLen - payloadHdrLen) / bytesPerPixel
    if maxPix < 1 {
        return nil, fmt.Errorf("%w: %d", ErrMTU, mtu)
    }
    perLine := (w + maxPix - 1) / maxPix
    pkts := make([]*rtp.Packet, 0, perLine*h)
    for y := 0; y < h; y++ {
        row := frame[y*w*bytesPerPixel : (y+1)*w*bytesPerPixel]
        for off := 0; off < w; off += maxPix {
            n := min(maxPix, w-off)
            payload := make([]byte, payloadHdrLen+n*bytesPerPixel)
            binary.BigEndian.PutUint16(payload[0:], uint16(p.seq>>16))
            binary.BigEndian.PutUint16(payload[2:], uint16(n*bytesPerPixel))
            binary.BigEndian.PutUint16(payload[4:], uint16(y)&0x7fff)
            binary.BigEndian.PutUint16(payload[6:], uint16(off)&0x7fff)
            copy(payload[payloadHdrLen:], row[off*bytesPerPixel:(off+n)*bytesPerPixel])
            pkts = append(pkts, &rtp.Packet{
                Header: rtp.Header{
                    Version:        2,
                    PayloadType:    p.PayloadType,
                    SequenceNumber: uint16(p.seq),
                    Timestamp:      ts,
                    SSRC:           p.SSRC,
                },
                Payload: payload,
            })
            p.seq++
        }
    }
    if len(pkts) > 0 {
        pkts[len(pkts)-1].Marker = true
    }
    return pkts, nil
}
