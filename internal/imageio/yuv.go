package imageio

import (
    "fmt"
    "io"
)

// Raw YUV containers. Both need the frame size from the caller and even
// dimensions.
const (
    FormatI420 = "yuv"
    FormatUYVY = "uyvy"
)

func checkEven(w, h int) error {
    if w <= 0 || h <= 0 || w%2 != 0 || h%2 != 0 {
        return fmt.Errorf("%w: yuv frames need even dimensions, got %dx%d", ErrRawSize, w, h)
    }
    return nil
}

// I420Size is the byte size of a planar 4:2:0 frame.
func I420Size(w, h int) int { return w*h + 2*(w/2)*(h/2) }

// yuvToRGB is the BT.601 limited-range integer approximation.
func yuvToRGB(y, u, v int, dst []byte) {
    c := y - 16
    d := u - 128
    e := v - 128
    if c < 0 { c = 0 }
    dst[0] = clamp8((298*c + 409*e + 128) >> 8)
    dst[1] = clamp8((298*c - 100*d - 208*e + 128) >> 8)
    dst[2] = clamp8((298*c + 516*d + 128) >> 8)
}

func clamp8(x int) byte { if x < 0 { return 0 }; if x > 255 { return 255 }; return byte(x) }

// I420ToRGB expands a planar I420 frame into a packed RGB frame.
func I420ToRGB(yuv []byte, w, h int) (*Frame, error) {
    if err := checkEven(w, h); err != nil { return nil, err }
    if len(yuv) != I420Size(w, h) {
        return nil, fmt.Errorf("%w: %d bytes for %dx%d I420", ErrRawSize, len(yuv), w, h)
    }
    cw := w / 2
    yp := yuv[:w*h]
    up := yuv[w*h : w*h+cw*h/2]
    vp := yuv[w*h+cw*h/2:]
    f := NewFrame(w, h)
    for y := 0; y < h; y++ {
        for x := 0; x < w; x++ {
            ci := (y/2)*cw + x/2
            yuvToRGB(int(yp[y*w+x]), int(up[ci]), int(vp[ci]), f.Pix[(y*w+x)*3:])
        }
    }
    return f, nil
}

// UYVYToRGB expands packed UYVY 4:2:2 (U0 Y0 V0 Y1 per pixel pair).
func UYVYToRGB(src []byte, w, h int) (*Frame, error) {
    if err := checkEven(w, h); err != nil { return nil, err }
    if len(src) != w*h*2 {
        return nil, fmt.Errorf("%w: %d bytes for %dx%d UYVY", ErrRawSize, len(src), w, h)
    }
    f := NewFrame(w, h)
    for i := 0; i < w*h/2; i++ {
        q := src[i*4:]
        u, v := int(q[0]), int(q[2])
        yuvToRGB(int(q[1]), u, v, f.Pix[i*6:])
        yuvToRGB(int(q[3]), u, v, f.Pix[i*6+3:])
    }
    return f, nil
}

// RGBToI420 converts f to planar I420, averaging chroma over 2x2 blocks.
func RGBToI420(f *Frame) ([]byte, error) {
    w, h := f.W, f.H
    if err := checkEven(w, h); err != nil { return nil, err }
    out := make([]byte, I420Size(w, h))
    cw := w / 2
    yp := out[:w*h]
    up := out[w*h : w*h+cw*h/2]
    vp := out[w*h+cw*h/2:]
    for i := 0; i < w*h; i++ {
        r, g, b := int(f.Pix[i*3]), int(f.Pix[i*3+1]), int(f.Pix[i*3+2])
        yp[i] = clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
    }
    for y := 0; y < h; y += 2 {
        for x := 0; x < w; x += 2 {
            var r, g, b int
            for _, o := range [4]int{y*w + x, y*w + x + 1, (y+1)*w + x, (y+1)*w + x + 1} {
                r += int(f.Pix[o*3])
                g += int(f.Pix[o*3+1])
                b += int(f.Pix[o*3+2])
            }
            r, g, b = r>>2, g>>2, b>>2
            ci := (y/2)*cw + x/2
            up[ci] = clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
            vp[ci] = clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
        }
    }
    return out, nil
}

func readYUV(r io.Reader, w, h int, format string) (*Frame, error) {
    if err := checkEven(w, h); err != nil { return nil, err }
    size := I420Size(w, h)
    if format == FormatUYVY { size = w * h * 2 }
    buf := make([]byte, size)
    if _, err := io.ReadFull(r, buf); err != nil {
        return nil, fmt.Errorf("%w: %v", ErrRawSize, err)
    }
    if format == FormatUYVY {
        return UYVYToRGB(buf, w, h)
    }
    return I420ToRGB(buf, w, h)
}

func writeI420(w io.Writer, f *Frame) error {
    buf, err := RGBToI420(f)
    if err != nil { return err }
    _, err = w.Write(buf)
    return err
}
