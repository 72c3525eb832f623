package segment

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"net/http"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// MaxUploadSize 默认的输入字节上限
const MaxUploadSize = 10 << 20 // 10 MiB

var defaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// Validate 在解码前做输入校验：字节上限 + 嗅探内容类型白名单。
// allowedTypes 为空时使用默认白名单。被拒绝的输入不会进入任何流水线阶段。
func Validate(data []byte, maxSize int64, allowedTypes []string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrValidation)
	}
	if maxSize <= 0 {
		maxSize = MaxUploadSize
	}
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrValidation, len(data), maxSize)
	}
	if len(allowedTypes) == 0 {
		allowedTypes = defaultAllowedTypes
	}
	contentType := http.DetectContentType(data)
	for _, allowed := range allowedTypes {
		if contentType == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: unsupported content type %s", ErrValidation, contentType)
}

// LoadAndFit 解码输入并把它等比缩放、居中放进 targetSize×targetSize 的画布。
// 画布先整体透明（letterbox 边框 alpha 为 0），再绘制缩放后的图像，
// 不透明来源的占用区域 alpha 为 255。不修改调用方的字节。
func LoadAndFit(data []byte, targetSize int) (*Canvas, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	bounds := src.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	// 等比缩放，min(target/w, target/h)
	scale := math.Min(float64(targetSize)/float64(origW), float64(targetSize)/float64(origH))
	newW := int(float64(origW) * scale)
	newH := int(float64(origH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	scaled := resize.Resize(uint(newW), uint(newH), src, resize.Lanczos3)

	// 居中绘制，边框保持透明
	canvas := image.NewNRGBA(image.Rect(0, 0, targetSize, targetSize))
	offsetX := (targetSize - newW) / 2
	offsetY := (targetSize - newH) / 2
	target := image.Rect(offsetX, offsetY, offsetX+newW, offsetY+newH)
	draw.Draw(canvas, target, scaled, scaled.Bounds().Min, draw.Src)

	return &Canvas{
		Image:          canvas,
		Size:           targetSize,
		OriginalWidth:  origW,
		OriginalHeight: origH,
	}, nil
}
