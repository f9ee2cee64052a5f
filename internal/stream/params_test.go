package stream

import (
    "math"
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestAlignWidth(t *testing.T) {
    cases := []struct{ n, lanes, want int }{
        {1280, 8, 1280},
        {426, 8, 424}, // 1280/3
        {428, 8, 432}, // tie goes up
        {3, 8, 8},
        {0, 8, 8},
        {13, 1, 13},
        {100, 16, 96},
    }
    for _, tc := range cases {
        assert.Equal(t, tc.want, AlignWidth(tc.n, tc.lanes), "AlignWidth(%d, %d)", tc.n, tc.lanes)
    }
}

func TestAutoLanes(t *testing.T) {
    pref := PreferredLanes()
    assert.Contains(t, []int{4, 8, 16}, pref)
    for _, w := range []int{3840, 640, 1000, 12, 7} {
        l := AutoLanes(w)
        assert.Zero(t, w%l, "width %d lanes %d", w, l)
        assert.LessOrEqual(t, l, pref)
        assert.NoError(t, validLanes(l))
    }
    assert.Equal(t, 1, AutoLanes(7))
}

func TestValidLanes(t *testing.T) {
    for _, l := range []int{1, 2, 8, 64} {
        assert.NoError(t, validLanes(l))
    }
    for _, l := range []int{0, -8, 3, 12, 128} {
        assert.ErrorIs(t, validLanes(l), ErrLanes)
    }
}

func TestValidateSigma(t *testing.T) {
    base := Params{WidthIn: 8, HeightIn: 8, WidthOut: 8, HeightOut: 8}
    for _, s := range []float64{math.NaN(), math.Inf(1), -1} {
        p := base
        p.Sigma = s
        assert.ErrorIs(t, p.Validate(8), ErrSigma)
    }
    p := base
    p.Sigma = 0
    assert.NoError(t, p.Validate(8), "sigma 0 degrades to identity")
}
