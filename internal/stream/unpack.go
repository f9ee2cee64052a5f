package stream

import (
    "bufio"
    "context"
    "errors"
    "fmt"
    "io"
)

// Unpack reads rows*cols packed RGB pixels from r, one word of lanes
// triplets at a time, and pushes the R, G and B vectors of each word to
// out[0], out[1] and out[2]. cols must be a multiple of lanes.
func Unpack(ctx context.Context, r io.Reader, rows, cols, lanes int, out [3]*FIFO) error {
    br := bufio.NewReaderSize(r, 1<<16)
    word := make([]byte, 3*lanes)
    n := rows * (cols / lanes)
    for i := 0; i < n; i++ {
        if _, err := io.ReadFull(br, word); err != nil {
            if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
                return fmt.Errorf("%w: got %d of %d words", ErrShortInput, i, n)
            }
            return err
        }
        incWordsIn()
        vr, vg, vb := SplitWord(word)
        // push in fixed channel order so no plane runs ahead of the others
        if err := out[0].Push(ctx, vr); err != nil { return err }
        if err := out[1].Push(ctx, vg); err != nil { return err }
        if err := out[2].Push(ctx, vb); err != nil { return err }
    }
    return nil
}
