package segment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
)

// Composite 把不透明度缓冲写入 img 的 alpha 通道，RGB 不动。
// 长度不匹配属于编程错误，直接 panic 而不是返回错误。
// 幂等：同一缓冲重复应用结果不变。
func Composite(img *image.NRGBA, opacity []uint8) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if len(opacity) != w*h {
		panic(fmt.Sprintf("segment: opacity buffer length %d != %d*%d", len(opacity), w, h))
	}

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			img.Pix[row+x*4+3] = opacity[y*w+x]
		}
	}
}

// EncodePNG 编码为带 alpha 的无损 PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI 把 PNG 字节包装成自包含的 data URI
func DataURI(pngData []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData)
}
