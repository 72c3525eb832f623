package segment

import (
	"context"
	"image"
	"time"
)

// Stage 流水线阶段
type Stage string

const (
	StageIdle           Stage = "idle"
	StageLoadingModel   Stage = "loading-model"
	StagePreprocessing  Stage = "preprocessing"
	StageInference      Stage = "inference"
	StagePostprocessing Stage = "postprocessing"
	StageComplete       Stage = "complete"
	StageError          Stage = "error"
)

// Progress 进度事件，fire-and-forget
type Progress struct {
	Stage   Stage
	Percent int // 0-100
	Message string
}

// ProgressFunc 进度回调；nil 时静默
type ProgressFunc func(Progress)

// MaskSurface 可读取像素的掩码面，Pix 为 RGBA 交错排列，
// 掩码按单通道灰度处理，取每个像素的第一个通道。
type MaskSurface struct {
	Width  int
	Height int
	Pix    []uint8 // len == Width*Height*4
}

// Segment 单个分割结果。各字段互斥地描述后端输出的一种形态：
// Surface 优先，其次 Data（Width/Height 为 0 表示未声明尺寸），
// 最后 Score。全空视为空段。
type Segment struct {
	Surface *MaskSurface
	Data    []float32
	Width   int
	Height  int
	Score   *float32
}

// Empty 判断段是否没有任何可用信息
func (s *Segment) Empty() bool {
	return s == nil || (s.Surface == nil && s.Data == nil && s.Score == nil)
}

// Result 后端返回的分割结果。适配层负责把异构输出收敛成这个封闭形态。
type Result struct {
	Segments []Segment
	Data     []float32 // 顶层原始缓冲（无段信息时的兜底）
}

// Segmenter 推理能力边界："给一张图，产出分割结果"
type Segmenter interface {
	Segment(ctx context.Context, img *image.NRGBA) (*Result, error)
	Close() error
}

// Canvas 归一化后的画布：居中 letterbox 到 Size×Size 的 NRGBA
type Canvas struct {
	Image          *image.NRGBA
	Size           int
	OriginalWidth  int
	OriginalHeight int
}

// ProcessResult 一次流水线运行的最终产物，构造后不再修改
type ProcessResult struct {
	PNG            []byte
	Image          *image.NRGBA
	OriginalWidth  int
	OriginalHeight int
	UsedFallback   bool
	Elapsed        time.Duration
}
