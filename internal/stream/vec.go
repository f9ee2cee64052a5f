package stream

import (
    "context"
)

// Vec carries one lane group of a single channel: L consecutive samples of a
// plane row.
type Vec []uint8

// SplitWord de-interleaves one packed word of L RGB triplets into three
// single-channel vectors. Byte 3i is R, 3i+1 is G, 3i+2 is B.
func SplitWord(word []byte) (r, g, b Vec) {
    lanes := len(word) / 3
    r, g, b = make(Vec, lanes), make(Vec, lanes), make(Vec, lanes)
    for i := 0; i < lanes; i++ {
        off := i * 3
        r[i] = word[off+0]
        g[i] = word[off+1]
        b[i] = word[off+2]
    }
    return r, g, b
}

// JoinWord interleaves three vectors back into word, which must hold
// 3*len(r) bytes.
func JoinWord(word []byte, r, g, b Vec) {
    for i := range r {
        off := i * 3
        word[off+0] = r[i]
        word[off+1] = g[i]
        word[off+2] = b[i]
    }
}

// readRow fills dst with consecutive vectors popped from in.
func readRow(ctx context.Context, in *FIFO, dst []uint8) error {
    for off := 0; off < len(dst); {
        v, err := in.Pop(ctx)
        if err != nil {
            return err
        }
        off += copy(dst[off:], v)
    }
    return nil
}

// writeRow slices row into fresh lane vectors and pushes them to out.
func writeRow(ctx context.Context, out *FIFO, row []uint8, lanes int) error {
    for x := 0; x < len(row); x += lanes {
        v := make(Vec, lanes)
        copy(v, row[x:x+lanes])
        if err := out.Push(ctx, v); err != nil {
            return err
        }
    }
    return nil
}
