package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/utils"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type RemoveResponse struct {
	Success        bool   `json:"success"`
	DataURI        string `json:"data_uri"`
	OriginalWidth  int    `json:"original_width"`
	OriginalHeight int    `json:"original_height"`
	UsedFallback   bool   `json:"used_fallback"`
	ElapsedMs      int64  `json:"elapsed_ms"`
}

// RemoveHandler 处理抠图请求
type RemoveHandler struct {
	cfg      *config.Config
	pipeline *segment.Pipeline
	cache    *gocache.Cache
}

func NewRemoveHandler(cfg *config.Config, pipeline *segment.Pipeline) *RemoveHandler {
	return &RemoveHandler{
		cfg:      cfg,
		pipeline: pipeline,
		cache:    gocache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval),
	}
}

// Remove 上传一张图（或给 url 表单字段），返回去掉背景的 PNG。
// ?format=datauri 返回 JSON + data URI，默认直接回 PNG 字节；
// ?trim=1 把结果裁剪到主体范围。
func (h *RemoveHandler) Remove(c *gin.Context) {
	data, ok := h.readInput(c)
	if !ok {
		return
	}

	trim := c.Query("trim") == "1"
	key := utils.MD5(data) + cacheSuffix(trim)

	// 命中缓存直接回，省一次推理
	if cached, ok := h.cache.Get(key); ok {
		utils.Logger.Debug("result cache hit", zap.String("key", key))
		h.respond(c, cached.(*segment.ProcessResult))
		return
	}

	result, err := h.pipeline.Process(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}

	if trim {
		result, err = trimResult(result)
		if err != nil {
			h.fail(c, err)
			return
		}
	}

	h.cache.Set(key, result, gocache.DefaultExpiration)
	h.respond(c, result)
}

// readInput 取输入字节：优先 image 文件字段，退而取 url 表单字段。
// 失败时负责写响应，返回 (nil, false)。
func (h *RemoveHandler) readInput(c *gin.Context) ([]byte, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		url := c.PostForm("url")
		if url == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Success: false,
				Message: "provide an 'image' file field or a 'url' form field",
			})
			return nil, false
		}

		data, err := utils.DownloadBytes(c.Request.Context(), url, h.cfg.Upload.MaxSize)
		if err != nil {
			utils.Logger.Error("failed to fetch remote image", zap.String("url", url), zap.Error(err))
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Success: false,
				Message: "failed to fetch image from url",
				Error:   err.Error(),
			})
			return nil, false
		}
		return data, true
	}

	if file.Size > h.cfg.Upload.MaxSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Message: fmt.Sprintf("file exceeds size limit (%d MB)", h.cfg.Upload.MaxSize/(1024*1024)),
		})
		return nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Message: "failed to open uploaded file",
			Error:   err.Error(),
		})
		return nil, false
	}
	defer func() {
		_ = src.Close()
	}()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Success: false,
			Message: "failed to read uploaded file",
			Error:   err.Error(),
		})
		return nil, false
	}
	return data, true
}

func (h *RemoveHandler) respond(c *gin.Context, result *segment.ProcessResult) {
	if c.Query("format") == "datauri" {
		c.JSON(http.StatusOK, RemoveResponse{
			Success:        true,
			DataURI:        segment.DataURI(result.PNG),
			OriginalWidth:  result.OriginalWidth,
			OriginalHeight: result.OriginalHeight,
			UsedFallback:   result.UsedFallback,
			ElapsedMs:      result.Elapsed.Milliseconds(),
		})
		return
	}
	c.Data(http.StatusOK, "image/png", result.PNG)
}

func (h *RemoveHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "background removal failed"

	switch {
	case errors.Is(err, segment.ErrValidation):
		status = http.StatusBadRequest
		message = "invalid input"
	case errors.Is(err, segment.ErrDecode):
		status = http.StatusUnprocessableEntity
		message = "image could not be decoded"
	case errors.Is(err, segment.ErrInFlight):
		status = http.StatusTooManyRequests
		message = "another request is being processed"
	case errors.Is(err, segment.ErrModelLoad):
		message = "model failed to load, retry later"
	case errors.Is(err, segment.ErrInference):
		message = "segmentation failed"
	}

	utils.Logger.Error("remove request failed", zap.Error(err))
	c.JSON(status, ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func trimResult(result *segment.ProcessResult) (*segment.ProcessResult, error) {
	trimmed, err := segment.TrimToSubject(result.Image, 8)
	if err != nil {
		// 整图都是背景时裁不出主体，原样返回
		return result, nil
	}
	pngData, err := segment.EncodePNG(trimmed)
	if err != nil {
		return nil, err
	}
	return &segment.ProcessResult{
		PNG:            pngData,
		Image:          trimmed,
		OriginalWidth:  result.OriginalWidth,
		OriginalHeight: result.OriginalHeight,
		UsedFallback:   result.UsedFallback,
		Elapsed:        result.Elapsed,
	}, nil
}

func cacheSuffix(trim bool) string {
	if trim {
		return ":trim"
	}
	return ""
}
