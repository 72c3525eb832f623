package segment

import (
	"math"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/utils"
)

// Normalize 把任意形态的分割结果收敛成 targetW*targetH 的不透明度缓冲
// （0=背景/全透明，255=前景/不透明）。永不报错：无法识别的形态退化为
// 全 255（不抠图），usedFallback 标记这种退化，调用方可据此观测。
//
// 判定级联，先匹配先赢：
//  1. 结果为空        -> 全 255
//  2. 首段为空        -> 全 255
//  3. 段带 Surface    -> 取首通道，尺寸不符做最近邻重采样
//  4. 段带 Data+尺寸  -> 同上，平面单通道
//  5. 段带 Data 无尺寸 -> 视为已匹配目标尺寸，短则补零长则截断
//  6. 段只有 Score    -> score>0.5 全 255 否则全 0
//  7. 顶层 Data       -> 按值规则填充 min(len, W*H)，其余为零
//  8. 都不匹配        -> 全 255，打一条告警
func Normalize(res *Result, targetW, targetH int) (buf []uint8, usedFallback bool) {
	n := targetW * targetH
	buf = make([]uint8, n)

	if res == nil || (len(res.Segments) == 0 && res.Data == nil) {
		fillOpaque(buf)
		return buf, true
	}

	if len(res.Segments) > 0 {
		seg := &res.Segments[0]
		if seg.Empty() {
			fillOpaque(buf)
			return buf, true
		}

		switch {
		case seg.Surface != nil:
			surfaceToOpacity(seg.Surface, buf, targetW, targetH)
			return buf, false

		case seg.Data != nil && seg.Width > 0 && seg.Height > 0:
			dataToOpacity(seg.Data, seg.Width, seg.Height, buf, targetW, targetH)
			return buf, false

		case seg.Data != nil:
			// 未声明尺寸，假定与目标一致
			for i := 0; i < n && i < len(seg.Data); i++ {
				buf[i] = normalizeValue(seg.Data[i])
			}
			return buf, false

		case seg.Score != nil:
			// 退化为整图二值分类
			if *seg.Score > 0.5 {
				fillOpaque(buf)
			}
			return buf, false
		}
	}

	if res.Data != nil {
		for i := 0; i < n && i < len(res.Data); i++ {
			buf[i] = normalizeValue(res.Data[i])
		}
		return buf, false
	}

	utils.Logger.Warn("unrecognized segmentation result shape, falling back to opaque",
		zap.Int("segments", len(res.Segments)))
	fillOpaque(buf)
	return buf, true
}

// surfaceToOpacity 从 RGBA 交错面读首通道，必要时最近邻重采样
func surfaceToOpacity(s *MaskSurface, dst []uint8, dstW, dstH int) {
	if s.Width == dstW && s.Height == dstH {
		for i := 0; i < dstW*dstH; i++ {
			dst[i] = s.Pix[i*4]
		}
		return
	}
	for y := 0; y < dstH; y++ {
		sy := y * s.Height / dstH
		for x := 0; x < dstW; x++ {
			sx := x * s.Width / dstW
			dst[y*dstW+x] = s.Pix[(sy*s.Width+sx)*4]
		}
	}
}

// dataToOpacity 平面单通道版本的 resample-or-copy
func dataToOpacity(data []float32, srcW, srcH int, dst []uint8, dstW, dstH int) {
	if srcW == dstW && srcH == dstH {
		for i := 0; i < dstW*dstH; i++ {
			if i < len(data) {
				dst[i] = normalizeValue(data[i])
			}
		}
		return
	}
	for y := 0; y < dstH; y++ {
		sy := y * srcH / dstH
		for x := 0; x < dstW; x++ {
			sx := x * srcW / dstW
			idx := sy*srcW + sx
			if idx < len(data) {
				dst[y*dstW+x] = normalizeValue(data[idx])
			}
		}
	}
}

// normalizeValue 值域归一：v<=1.0 当小数映射到 round(v*255)，否则当 0-255
func normalizeValue(v float32) uint8 {
	var f float64
	if v <= 1.0 {
		f = math.Round(float64(v) * 255)
	} else {
		f = math.Round(float64(v))
	}
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}

func fillOpaque(buf []uint8) {
	for i := range buf {
		buf[i] = 255
	}
}
