// Package imageio moves frames between image containers on disk or the wire
// and the packed RGB8 layout the pipeline consumes.
package imageio

import (
    "bytes"
    "errors"
    "fmt"
    "image"
    "image/gif"
    "image/jpeg"
    "image/png"
    "io"
    "os"
    "path/filepath"
    "strings"

    "github.com/klauspost/compress/zstd"
    "golang.org/x/image/bmp"
    xdraw "golang.org/x/image/draw"
    "golang.org/x/image/tiff"
    _ "golang.org/x/image/webp"
)

var (
    ErrFormat  = errors.New("unsupported image format")
    ErrRawSize = errors.New("raw frame size mismatch")
    // ErrDimensions means the container header announces a larger image
    // than the caller accepts.
    ErrDimensions = errors.New("image dimensions too large")
    // ErrDecodeOnly marks formats that can be read but not written.
    ErrDecodeOnly = errors.New("format is decode-only")
)

// Container formats. All of them decode; Save and Encode skip WebP.
const (
    FormatPNG     = "png"
    FormatJPEG    = "jpeg"
    FormatGIF     = "gif"
    FormatBMP     = "bmp"
    FormatTIFF    = "tiff"
    FormatRaw     = "rgb"
    FormatRawZstd = "rgb.zst"
    // FormatWebP is read through x/image/webp, which has no encoder.
    FormatWebP = "webp"
)

// Frame is a packed RGB8 raster, 3 bytes per pixel, row-major.
type Frame struct {
    W, H int
    Pix  []byte
}

// NewFrame allocates a black w x h frame.
func NewFrame(w, h int) *Frame {
    return &Frame{W: w, H: h, Pix: make([]byte, w*h*3)}
}

// FromImage flattens any image.Image into packed RGB, dropping alpha.
func FromImage(img image.Image) *Frame {
    b := img.Bounds()
    rgba, ok := img.(*image.RGBA)
    if !ok || rgba.Rect.Min != (image.Point{}) {
        rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
        xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
    }
    f := NewFrame(b.Dx(), b.Dy())
    for y := 0; y < f.H; y++ {
        src := rgba.Pix[y*rgba.Stride:]
        dst := f.Pix[y*f.W*3:]
        for x := 0; x < f.W; x++ {
            dst[x*3+0] = src[x*4+0]
            dst[x*3+1] = src[x*4+1]
            dst[x*3+2] = src[x*4+2]
        }
    }
    return f
}

// Image expands the frame into an opaque *image.RGBA.
func (f *Frame) Image() *image.RGBA {
    img := image.NewRGBA(image.Rect(0, 0, f.W, f.H))
    for i := 0; i < f.W*f.H; i++ {
        img.Pix[i*4+0] = f.Pix[i*3+0]
        img.Pix[i*4+1] = f.Pix[i*3+1]
        img.Pix[i*4+2] = f.Pix[i*3+2]
        img.Pix[i*4+3] = 255
    }
    return img
}

// Decode reads any registered container (PNG, JPEG, GIF, BMP, TIFF, WebP).
func Decode(r io.Reader) (*Frame, string, error) {
    img, format, err := image.Decode(r)
    if err != nil {
        return nil, "", fmt.Errorf("decode: %w", err)
    }
    return FromImage(img), format, nil
}

// DecodeLimit is Decode for untrusted input. The header is parsed first and
// images wider than maxW or taller than maxH are refused before any pixel
// is decoded. A zero limit disables that check.
func DecodeLimit(r io.Reader, maxW, maxH int) (*Frame, string, error) {
    var head bytes.Buffer
    cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
    if err != nil {
        return nil, "", fmt.Errorf("decode: %w", err)
    }
    if (maxW > 0 && cfg.Width > maxW) || (maxH > 0 && cfg.Height > maxH) {
        return nil, "", fmt.Errorf("%w: %dx%d, max %dx%d", ErrDimensions, cfg.Width, cfg.Height, maxW, maxH)
    }
    return Decode(io.MultiReader(&head, r))
}

// Encode writes f in the given container format.
func Encode(w io.Writer, f *Frame, format string) error {
    img := f.Image()
    switch format {
    case FormatPNG:
        return png.Encode(w, img)
    case FormatJPEG:
        return jpeg.Encode(w, img, &jpeg.Options{Quality: 95})
    case FormatGIF:
        return gif.Encode(w, img, nil)
    case FormatBMP:
        return bmp.Encode(w, img)
    case FormatTIFF:
        return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
    case FormatRaw:
        return WriteRaw(w, f, false)
    case FormatRawZstd:
        return WriteRaw(w, f, true)
    case FormatI420:
        return writeI420(w, f)
    }
    return fmt.Errorf("%w: %q", ErrFormat, format)
}

// FormatFromPath derives the container format from a file name.
func FormatFromPath(path string) string {
    lower := strings.ToLower(path)
    if strings.HasSuffix(lower, ".rgb.zst") {
        return FormatRawZstd
    }
    switch filepath.Ext(lower) {
    case ".png":
        return FormatPNG
    case ".jpg", ".jpeg":
        return FormatJPEG
    case ".gif":
        return FormatGIF
    case ".bmp":
        return FormatBMP
    case ".tif", ".tiff":
        return FormatTIFF
    case ".rgb", ".raw":
        return FormatRaw
    case ".yuv", ".i420":
        return FormatI420
    case ".uyvy":
        return FormatUYVY
    case ".webp":
        return FormatWebP
    }
    return ""
}

// NewZstdWriter returns a single-threaded zstd encoder around w.
func NewZstdWriter(w io.Writer) (*zstd.Encoder, error) {
    return zstd.NewWriter(w,
        zstd.WithEncoderConcurrency(1),
        zstd.WithEncoderLevel(zstd.SpeedDefault),
    )
}

// NewZstdReader returns a single-threaded zstd decoder around r that refuses
// to decode more than maxBytes.
func NewZstdReader(r io.Reader, maxBytes uint64) (*zstd.Decoder, error) {
    return zstd.NewReader(r,
        zstd.WithDecoderConcurrency(1),
        zstd.WithDecoderMaxMemory(maxBytes),
    )
}

// ReadRaw reads exactly w*h packed RGB pixels, optionally zstd-compressed.
func ReadRaw(r io.Reader, w, h int, compressed bool) (*Frame, error) {
    if w <= 0 || h <= 0 {
        return nil, fmt.Errorf("%w: raw frame needs explicit size, got %dx%d", ErrRawSize, w, h)
    }
    if compressed {
        zr, err := NewZstdReader(r, uint64(w*h*3)+1<<20)
        if err != nil { return nil, err }
        defer zr.Close()
        r = zr
    }
    f := NewFrame(w, h)
    if _, err := io.ReadFull(r, f.Pix); err != nil {
        return nil, fmt.Errorf("%w: %v", ErrRawSize, err)
    }
    return f, nil
}

// WriteRaw writes the packed pixels, optionally zstd-compressed.
func WriteRaw(w io.Writer, f *Frame, compressed bool) error {
    if !compressed {
        _, err := w.Write(f.Pix)
        return err
    }
    zw, err := NewZstdWriter(w)
    if err != nil { return err }
    if _, err := zw.Write(f.Pix); err != nil {
        zw.Close()
        return err
    }
    return zw.Close()
}

// Load reads a frame from path. Raw RGB and YUV files need rawW and rawH.
func Load(path string, rawW, rawH int) (*Frame, error) {
    fh, err := os.Open(path)
    if err != nil { return nil, err }
    defer fh.Close()
    switch FormatFromPath(path) {
    case FormatRaw:
        return ReadRaw(fh, rawW, rawH, false)
    case FormatRawZstd:
        return ReadRaw(fh, rawW, rawH, true)
    case FormatI420, FormatUYVY:
        return readYUV(fh, rawW, rawH, FormatFromPath(path))
    }
    f, _, err := Decode(fh)
    return f, err
}

// Save writes f to path in the format implied by its extension.
func Save(path string, f *Frame) error {
    format := FormatFromPath(path)
    switch format {
    case "":
        return fmt.Errorf("%w: %s", ErrFormat, path)
    case FormatWebP, FormatUYVY:
        return fmt.Errorf("%w: %w: %s", ErrFormat, ErrDecodeOnly, path)
    }
    fh, err := os.Create(path)
    if err != nil { return err }
    if err := Encode(fh, f, format); err != nil {
        fh.Close()
        return err
    }
    return fh.Close()
}
