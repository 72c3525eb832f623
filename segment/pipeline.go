package segment

import (
	"context"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/utils"
)

// Options 控制一条流水线的行为
type Options struct {
	// TargetSize 画布边长，<=0 时取 1024
	TargetSize int
	// MaxUploadSize 输入字节上限，<=0 时取 MaxUploadSize 常量
	MaxUploadSize int64
	// AllowedTypes 接受的嗅探内容类型，空则用默认白名单
	AllowedTypes []string
	// InferenceTimeout 推理超时，0 表示不限制（后端可能悬死，慎用）
	InferenceTimeout time.Duration
	// FeatherRadius 掩码边缘羽化半径（高斯模糊 sigma），0 关闭
	FeatherRadius float64
	// OnProgress 阶段/进度回调，可为 nil
	OnProgress ProgressFunc
}

// Pipeline 串联 加载模型 -> 预处理 -> 推理 -> 后处理 四个阶段。
// 非重入：同一实例上已有请求在执行时，新的 Process 直接被拒绝，
// 不排队也不抢占。
type Pipeline struct {
	provider *Provider
	opts     Options

	inFlight atomic.Bool
}

func NewPipeline(provider *Provider, opts Options) *Pipeline {
	if opts.TargetSize <= 0 {
		opts.TargetSize = 1024
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = MaxUploadSize
	}
	return &Pipeline{provider: provider, opts: opts}
}

// Process 对一张图执行完整的背景移除，返回不可变的结果对象。
// 任一阶段出错则整体失败，不返回部分结果；唯一的例外是掩码归一化，
// 它永不报错，退化情况通过 ProcessResult.UsedFallback 暴露。
func (p *Pipeline) Process(ctx context.Context, data []byte) (*ProcessResult, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		utils.Logger.Warn("process rejected, pipeline already in flight")
		return nil, ErrInFlight
	}
	defer p.inFlight.Store(false)

	start := time.Now()

	if err := Validate(data, p.opts.MaxUploadSize, p.opts.AllowedTypes); err != nil {
		return nil, err
	}

	p.emit(StageLoadingModel, 0, "loading model")
	seg, err := p.provider.Get(ctx, p.opts.OnProgress)
	if err != nil {
		p.emit(StageError, 0, err.Error())
		return nil, err
	}
	p.emit(StageLoadingModel, 100, "model ready")

	p.emit(StagePreprocessing, 0, "decoding image")
	canvas, err := LoadAndFit(data, p.opts.TargetSize)
	if err != nil {
		p.emit(StageError, 0, err.Error())
		return nil, err
	}
	p.emit(StagePreprocessing, 100, "image fitted")

	p.emit(StageInference, 0, "running segmentation")
	res, err := p.segment(ctx, seg, canvas)
	if err != nil {
		p.emit(StageError, 0, err.Error())
		return nil, err
	}
	p.emit(StageInference, 100, "segmentation done")

	p.emit(StagePostprocessing, 0, "compositing mask")
	opacity, usedFallback := Normalize(res, canvas.Size, canvas.Size)
	if usedFallback {
		utils.Logger.Warn("mask normalization degraded to opaque fallback")
	}
	if p.opts.FeatherRadius > 0 && !usedFallback {
		opacity = feather(opacity, canvas.Size, canvas.Size, p.opts.FeatherRadius)
	}
	Composite(canvas.Image, opacity)

	pngData, err := EncodePNG(canvas.Image)
	if err != nil {
		p.emit(StageError, 0, err.Error())
		return nil, err
	}
	p.emit(StagePostprocessing, 100, "mask composited")

	elapsed := time.Since(start)
	p.emit(StageComplete, 100, "done")
	utils.Logger.Info("pipeline complete",
		zap.Int("original_width", canvas.OriginalWidth),
		zap.Int("original_height", canvas.OriginalHeight),
		zap.Bool("used_fallback", usedFallback),
		zap.Duration("elapsed", elapsed))

	return &ProcessResult{
		PNG:            pngData,
		Image:          canvas.Image,
		OriginalWidth:  canvas.OriginalWidth,
		OriginalHeight: canvas.OriginalHeight,
		UsedFallback:   usedFallback,
		Elapsed:        elapsed,
	}, nil
}

func (p *Pipeline) segment(ctx context.Context, seg Segmenter, canvas *Canvas) (*Result, error) {
	defer utils.Trace("inference")()
	if p.opts.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.InferenceTimeout)
		defer cancel()
	}
	res, err := seg.Segment(ctx, canvas.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return res, nil
}

func (p *Pipeline) emit(stage Stage, percent int, message string) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(Progress{Stage: stage, Percent: percent, Message: message})
	}
}

// feather 对掩码做轻微高斯模糊，软化锯齿边缘
func feather(opacity []uint8, w, h int, radius float64) []uint8 {
	gray := &image.Gray{Pix: opacity, Stride: w, Rect: image.Rect(0, 0, w, h)}
	blurred := imaging.Blur(gray, radius)

	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out[y*w+x] = blurred.Pix[y*blurred.Stride+x*4]
		}
	}
	return out
}
