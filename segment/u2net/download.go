package u2net

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/utils"
)

// downloadTimeout 权重下载的整体超时
const downloadTimeout = 10 * time.Minute

// EnsureModel 保证权重文件已在 modelDir 缓存，缺失时下载。
// 下载进度按字节归一成单调的 0-100；服务端不给 Content-Length 时
// 只汇报 0 和 100 两个粗粒度标记。
func EnsureModel(ctx context.Context, modelDir, modelURL string, progress segment.ProgressFunc) (string, error) {
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return "", fmt.Errorf("create model directory: %w", err)
	}

	modelPath := filepath.Join(modelDir, filepath.Base(modelURL))
	if _, err := os.Stat(modelPath); err == nil {
		// 已缓存
		return modelPath, nil
	}

	utils.Logger.Info("downloading model weights", zap.String("url", modelURL))
	if err := downloadModel(ctx, modelURL, modelPath, progress); err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	utils.Logger.Info("model weights cached", zap.String("path", modelPath))

	return modelPath, nil
}

func downloadModel(ctx context.Context, url, path string, progress segment.ProgressFunc) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	emit(progress, 0, "downloading model")

	// 先写临时文件，成功后原子改名，避免半个权重被当成缓存命中
	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	src := io.Reader(resp.Body)
	if resp.ContentLength > 0 {
		src = &progressReader{
			r:        resp.Body,
			total:    resp.ContentLength,
			progress: progress,
		}
	}

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	emit(progress, 100, "model downloaded")
	return nil
}

// progressReader 按读取字节换算百分比，只在整数百分比前进时汇报
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	last     int
	progress segment.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct > p.last {
		p.last = pct
		emit(p.progress, pct, "downloading model")
	}
	return n, err
}

func emit(progress segment.ProgressFunc, percent int, message string) {
	if progress != nil {
		progress(segment.Progress{
			Stage:   segment.StageLoadingModel,
			Percent: percent,
			Message: message,
		})
	}
}
