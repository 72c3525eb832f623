package segment

import (
	"errors"
	"image"
	"image/draw"
	"math"
)

// AlphaBBox 从 alpha 通道计算主体 bounding box。
// 把 alpha > threshold*255 的像素当作主体，找所有主体像素的范围。
func AlphaBBox(img *image.NRGBA, threshold float64) (image.Rectangle, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	th := uint8(threshold * 255)

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			a := img.Pix[row+x*4+3]
			if a > th {
				found = true
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if !found {
		return image.Rectangle{}, errors.New("no foreground region detected")
	}

	return image.Rect(minX, minY, maxX+1, maxY+1), nil
}

// TrimToSubject 去背景后把画布裁剪到主体范围，外加 margin 像素的边
func TrimToSubject(img *image.NRGBA, margin int) (*image.NRGBA, error) {
	bbox, err := AlphaBBox(img, 0.02)
	if err != nil {
		return nil, err
	}

	rect := image.Rect(
		bbox.Min.X-margin, bbox.Min.Y-margin,
		bbox.Max.X+margin, bbox.Max.Y+margin,
	).Intersect(img.Bounds())

	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst, nil
}

// CropSquare 以主体中心做正方形裁剪，边长取 bbox 的最长边
func CropSquare(img *image.NRGBA, bbox image.Rectangle) *image.NRGBA {
	cx := (bbox.Min.X + bbox.Max.X) / 2
	cy := (bbox.Min.Y + bbox.Max.Y) / 2
	size := int(math.Max(float64(bbox.Dx()), float64(bbox.Dy())))

	half := size / 2
	rect := image.Rect(
		cx-half, cy-half,
		cx+half, cy+half,
	).Intersect(img.Bounds())

	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// Premultiply 预乘 Alpha，RGB × alpha，透明区域自然变黑，
// 消除抠图后的白边/边缘污染
func Premultiply(img *image.NRGBA) {
	for i := 0; i < len(img.Pix); i += 4 {
		a := float64(img.Pix[i+3]) / 255.0
		img.Pix[i] = uint8(float64(img.Pix[i]) * a)
		img.Pix[i+1] = uint8(float64(img.Pix[i+1]) * a)
		img.Pix[i+2] = uint8(float64(img.Pix[i+2]) * a)
	}
}

// HasUsefulAlpha 检查 alpha 通道是否真的包含透明信息，
// 存在非 255 即认为已有抠图
func HasUsefulAlpha(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// ToNRGBA 统一转换为 NRGBA 便于处理
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
