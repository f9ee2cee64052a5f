package imageio

import (
    "path/filepath"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// blockFrame paints 2x2 blocks of one colour each so chroma subsampling is
// lossless and only rounding error remains.
func blockFrame(w, h int, colours [][3]byte) *Frame {
    f := NewFrame(w, h)
    for y := 0; y < h; y++ {
        for x := 0; x < w; x++ {
            c := colours[((y/2)*(w/2)+x/2)%len(colours)]
            copy(f.Pix[(y*w+x)*3:], c[:])
        }
    }
    return f
}

func TestI420RoundTrip(t *testing.T) {
    f := blockFrame(8, 4, [][3]byte{{200, 30, 60}, {0, 0, 0}, {255, 255, 255}, {128, 128, 128}, {20, 180, 90}})
    yuv, err := RGBToI420(f)
    require.NoError(t, err)
    require.Len(t, yuv, I420Size(8, 4))

    back, err := I420ToRGB(yuv, 8, 4)
    require.NoError(t, err)
    for i := range f.Pix {
        assert.InDelta(t, f.Pix[i], back.Pix[i], 4, "byte %d", i)
    }
}

func TestGreyLevelsExact(t *testing.T) {
    f := blockFrame(4, 2, [][3]byte{{0, 0, 0}, {255, 255, 255}})
    yuv, err := RGBToI420(f)
    require.NoError(t, err)
    assert.Equal(t, byte(16), yuv[0])
    assert.Equal(t, byte(235), yuv[2])
    back, err := I420ToRGB(yuv, 4, 2)
    require.NoError(t, err)
    assert.Equal(t, f.Pix, back.Pix)
}

func TestUYVYToRGB(t *testing.T) {
    src := []byte{
        128, 16, 128, 235, 128, 235, 128, 16,
        128, 16, 128, 16, 128, 235, 128, 235,
    }
    f, err := UYVYToRGB(src, 4, 2)
    require.NoError(t, err)
    want := []byte{
        0, 0, 0, 255, 255, 255, 255, 255, 255, 0, 0, 0,
        0, 0, 0, 0, 0, 0, 255, 255, 255, 255, 255, 255,
    }
    assert.Equal(t, want, f.Pix)
}

func TestYUVSizeErrors(t *testing.T) {
    _, err := I420ToRGB(make([]byte, 10), 4, 2)
    assert.ErrorIs(t, err, ErrRawSize)
    _, err = UYVYToRGB(make([]byte, 12), 3, 2)
    assert.ErrorIs(t, err, ErrRawSize)
    _, err = RGBToI420(NewFrame(5, 4))
    assert.ErrorIs(t, err, ErrRawSize)
}

func TestSaveLoadYUV(t *testing.T) {
    dir := t.TempDir()
    f := blockFrame(6, 4, [][3]byte{{0, 0, 0}, {255, 255, 255}})
    path := filepath.Join(dir, "frame.yuv")
    assert.Equal(t, FormatI420, FormatFromPath(path))
    assert.Equal(t, FormatUYVY, FormatFromPath("cap.uyvy"))

    require.NoError(t, Save(path, f))
    got, err := Load(path, 6, 4)
    require.NoError(t, err)
    assert.Equal(t, f.Pix, got.Pix)

    _, err = Load(path, 0, 0)
    assert.ErrorIs(t, err, ErrRawSize)
    assert.ErrorIs(t, Save(filepath.Join(dir, "frame.uyvy"), f), ErrFormat)
}
