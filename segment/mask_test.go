package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allEqual(buf []uint8, v uint8) bool {
	for _, b := range buf {
		if b != v {
			return false
		}
	}
	return true
}

func TestNormalize_BufferSizeAlwaysMatchesTarget(t *testing.T) {
	score := float32(0.9)
	cases := []struct {
		name string
		res  *Result
	}{
		{"nil result", nil},
		{"empty segments", &Result{}},
		{"empty first segment", &Result{Segments: []Segment{{}}}},
		{"surface", &Result{Segments: []Segment{{
			Surface: &MaskSurface{Width: 2, Height: 2, Pix: make([]uint8, 16)},
		}}}},
		{"data with dims", &Result{Segments: []Segment{{
			Data: make([]float32, 4), Width: 2, Height: 2,
		}}}},
		{"data without dims", &Result{Segments: []Segment{{Data: make([]float32, 3)}}}},
		{"score only", &Result{Segments: []Segment{{Score: &score}}}},
		{"top-level data", &Result{Data: make([]float32, 10)}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			buf, _ := Normalize(tt.res, 7, 5)
			assert.Len(t, buf, 7*5)
		})
	}
}

func TestNormalize_OpaqueFallback(t *testing.T) {
	for _, res := range []*Result{
		nil,
		{},
		{Segments: []Segment{{}}},
	} {
		buf, usedFallback := Normalize(res, 4, 4)
		assert.True(t, usedFallback)
		assert.True(t, allEqual(buf, 255), "fallback buffer must be fully opaque")
	}
}

func TestNormalize_ValueRange(t *testing.T) {
	res := &Result{Segments: []Segment{{
		Data:   []float32{0.0, 0.5, 1.0, 128, 255},
		Width:  5,
		Height: 1,
	}}}

	buf, usedFallback := Normalize(res, 5, 1)
	require.False(t, usedFallback)
	assert.Equal(t, []uint8{0, 128, 255, 128, 255}, buf)
}

func TestNormalize_NearestNeighborResample(t *testing.T) {
	src := &Result{Segments: []Segment{{
		Data:   []float32{0, 255, 255, 0},
		Width:  2,
		Height: 2,
	}}}

	first, _ := Normalize(src, 4, 4)
	second, _ := Normalize(src, 4, 4)
	assert.Equal(t, first, second, "resampling must be deterministic")

	// 最近邻不插值，每个输出像素都等于某个源像素
	for _, v := range first {
		assert.Contains(t, []uint8{0, 255}, v)
	}

	// floor(x*2/4): 0,0,1,1，左上 2x2 块来自源 (0,0)=0
	assert.Equal(t, uint8(0), first[0])
	assert.Equal(t, uint8(0), first[1])
	assert.Equal(t, uint8(255), first[2])
	assert.Equal(t, uint8(255), first[3])
}

func TestNormalize_SurfaceFirstChannel(t *testing.T) {
	// 2x2 RGBA 面，掩码值在首通道，其余通道填充干扰值
	pix := []uint8{
		10, 99, 99, 99 /**/, 20, 99, 99, 99,
		30, 99, 99, 99 /**/, 40, 99, 99, 99,
	}
	res := &Result{Segments: []Segment{{
		Surface: &MaskSurface{Width: 2, Height: 2, Pix: pix},
	}}}

	buf, usedFallback := Normalize(res, 2, 2)
	require.False(t, usedFallback)
	assert.Equal(t, []uint8{10, 20, 30, 40}, buf)
}

func TestNormalize_SurfaceResampled(t *testing.T) {
	pix := []uint8{
		0, 0, 0, 0 /**/, 200, 0, 0, 0,
		200, 0, 0, 0 /**/, 0, 0, 0, 0,
	}
	res := &Result{Segments: []Segment{{
		Surface: &MaskSurface{Width: 2, Height: 2, Pix: pix},
	}}}

	buf, usedFallback := Normalize(res, 4, 4)
	require.False(t, usedFallback)
	assert.Len(t, buf, 16)
	for _, v := range buf {
		assert.Contains(t, []uint8{0, 200}, v)
	}
}

func TestNormalize_DataWithoutDims(t *testing.T) {
	// 短缓冲：前缀按值规则填充，尾部补零
	res := &Result{Segments: []Segment{{Data: []float32{1.0, 0.5}}}}
	buf, usedFallback := Normalize(res, 2, 2)
	require.False(t, usedFallback)
	assert.Equal(t, []uint8{255, 128, 0, 0}, buf)

	// 长缓冲：截断
	res = &Result{Segments: []Segment{{Data: []float32{1, 1, 1, 1, 1, 1}}}}
	buf, _ = Normalize(res, 2, 2)
	assert.True(t, allEqual(buf, 255))
}

func TestNormalize_ScoreOnly(t *testing.T) {
	high := float32(0.8)
	low := float32(0.3)

	buf, usedFallback := Normalize(&Result{Segments: []Segment{{Score: &high}}}, 3, 3)
	assert.False(t, usedFallback)
	assert.True(t, allEqual(buf, 255))

	buf, _ = Normalize(&Result{Segments: []Segment{{Score: &low}}}, 3, 3)
	assert.True(t, allEqual(buf, 0))
}

func TestNormalize_TopLevelData(t *testing.T) {
	res := &Result{Data: []float32{1.0, 0.0}}
	buf, usedFallback := Normalize(res, 2, 2)
	require.False(t, usedFallback)
	assert.Equal(t, []uint8{255, 0, 0, 0}, buf)
}
