// Package u2net 基于 U²-Net ONNX 模型实现 segment.Segmenter。
// 模型权重首次使用时下载到本地缓存目录，之后直接复用。
package u2net

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/cutout/segment"
)

const (
	// DefaultModelURL u2netp 权重发布地址
	DefaultModelURL = "https://github.com/danielgatis/rembg/releases/download/v0.0.0/u2netp.onnx"
	// DefaultInputSize 模型输入边长
	DefaultInputSize = 320
)

// ImageNet 统计量，训练时的归一化参数
var (
	mean = [3]float32{0.485, 0.456, 0.406}
	std  = [3]float32{0.229, 0.224, 0.225}
)

// Config 后端配置
type Config struct {
	ModelDir  string
	ModelURL  string
	InputSize int
}

func (c *Config) withDefaults() {
	if c.ModelURL == "" {
		c.ModelURL = DefaultModelURL
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	if c.ModelDir == "" {
		c.ModelDir = "./models"
	}
}

// Backend 持有 ONNX 会话和预分配的输入输出张量。
// 张量被复用，Segment 内部用互斥锁串行化。
type Backend struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
}

// New 创建后端：确保权重已缓存（必要时下载并汇报进度），再建会话
func New(ctx context.Context, cfg Config, progress segment.ProgressFunc) (*Backend, error) {
	cfg.withDefaults()

	modelPath, err := EnsureModel(ctx, cfg.ModelDir, cfg.ModelURL, progress)
	if err != nil {
		return nil, err
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize ONNX environment: %w", err)
	}

	n := cfg.InputSize
	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(n), int64(n)),
		make([]float32, 3*n*n),
	)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewTensor(
		ort.NewShape(1, 1, int64(n), int64(n)),
		make([]float32, n*n),
	)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"1959"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create ONNX session: %w", err)
	}

	return &Backend{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    n,
	}, nil
}

// Segment 把画布缩到模型输入尺寸，跑一次推理，
// 输出带尺寸的平面掩码缓冲（sigmoid 后 0-1）。
func (b *Backend) Segment(ctx context.Context, img *image.NRGBA) (*segment.Result, error) {
	b.mu.Lock()

	n := b.inputSize
	resized := resize.Resize(uint(n), uint(n), img, resize.Lanczos3)
	fillInput(b.inputTensor.GetData(), segment.ToNRGBA(resized), n)

	// Run 本身不可取消，放到 goroutine 里以便尊重 ctx 超时
	done := make(chan error, 1)
	go func() {
		done <- b.session.Run()
	}()
	if err := waitRun(ctx, done, b.mu.Unlock); err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	logits := b.outputTensor.GetData()
	data := make([]float32, len(logits))
	for i, v := range logits {
		data[i] = sigmoid(v)
	}

	return &segment.Result{
		Segments: []segment.Segment{{
			Data:   data,
			Width:  n,
			Height: n,
		}},
	}, nil
}

// Close 释放会话与张量
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	if b.inputTensor != nil {
		b.inputTensor.Destroy()
		b.inputTensor = nil
	}
	if b.outputTensor != nil {
		b.outputTensor.Destroy()
		b.outputTensor = nil
	}
	ort.DestroyEnvironment()
	return nil
}

// waitRun 等推理结束或 ctx 先到期。到期时这次 Run 被放弃，但它仍在
// 读写共享的会话和张量，锁交给后台 goroutine，排空后才调用 unlock，
// 下一次 Segment（以及 Close 的 Destroy）都得等它真正结束。
// 返回 nil 时锁仍由调用方持有；返回错误时锁已移交或已释放。
func waitRun(ctx context.Context, done <-chan error, unlock func()) error {
	select {
	case <-ctx.Done():
		go func() {
			<-done
			unlock()
		}()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			unlock()
			return fmt.Errorf("session run: %w", err)
		}
		return nil
	}
}

// fillInput 写 CHW 排列、mean/std 归一化的输入
func fillInput(dst []float32, img *image.NRGBA, n int) {
	for y := 0; y < n; y++ {
		row := y * img.Stride
		for x := 0; x < n; x++ {
			base := row + x*4
			r := float32(img.Pix[base+0]) / 255.0
			g := float32(img.Pix[base+1]) / 255.0
			bl := float32(img.Pix[base+2]) / 255.0
			dst[(0*n+y)*n+x] = (r - mean[0]) / std[0]
			dst[(1*n+y)*n+x] = (g - mean[1]) / std[1]
			dst[(2*n+y)*n+x] = (bl - mean[2]) / std[2]
		}
	}
}

func sigmoid(v float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(float64(-v))))
}
