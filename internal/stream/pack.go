package stream

import (
    "bufio"
    "context"
    "fmt"
    "io"
)

// Pack pops one vector from each of in[0..2] (R, G, B, in that order),
// interleaves them into a packed word and writes it to w, until rows*cols
// pixels have been written.
func Pack(ctx context.Context, in [3]*FIFO, w io.Writer, rows, cols, lanes int) error {
    bw := bufio.NewWriterSize(w, 1<<16)
    word := make([]byte, 3*lanes)
    n := rows * (cols / lanes)
    var planes [3]Vec
    for i := 0; i < n; i++ {
        for c := 0; c < 3; c++ {
            v, err := in[c].Pop(ctx)
            if err != nil { return err }
            if len(v) != lanes {
                return fmt.Errorf("pack: channel %d vector %d has %d lanes, want %d", c, i, len(v), lanes)
            }
            planes[c] = v
        }
        JoinWord(word, planes[0], planes[1], planes[2])
        if _, err := bw.Write(word); err != nil { return err }
        incWordsOut()
    }
    return bw.Flush()
}
