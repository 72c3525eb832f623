package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/segment"
)

type stubSegmenter struct {
	calls atomic.Int32
}

func (s *stubSegmenter) Segment(ctx context.Context, img *image.NRGBA) (*segment.Result, error) {
	s.calls.Add(1)
	size := img.Bounds().Dx()
	data := make([]float32, size*size)
	for i := range data {
		data[i] = 1.0
	}
	return &segment.Result{Segments: []segment.Segment{{Data: data, Width: size, Height: size}}}, nil
}

func (s *stubSegmenter) Close() error { return nil }

func newTestRouter(t *testing.T, seg segment.Segmenter) (*gin.Engine, *RemoveHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.New()
	cfg.Pipeline.TargetSize = 64

	provider := segment.NewProvider(func(ctx context.Context, progress segment.ProgressFunc) (segment.Segmenter, error) {
		return seg, nil
	})
	pipeline := segment.NewPipeline(provider, segment.Options{TargetSize: cfg.Pipeline.TargetSize})

	h := NewRemoveHandler(cfg, pipeline)
	r := gin.New()
	r.POST("/api/v1/remove", h.Remove)
	return r, h
}

func multipartImage(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 120, G: 30, B: 20, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "input.png")
	require.NoError(t, err)
	_, err = part.Write(pngBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func TestRemove_ReturnsPNG(t *testing.T) {
	r, _ := newTestRouter(t, &stubSegmenter{})

	body, contentType := multipartImage(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	decoded, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
}

func TestRemove_DataURIFormat(t *testing.T) {
	r, _ := newTestRouter(t, &stubSegmenter{})

	body, contentType := multipartImage(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove?format=datauri", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp RemoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, strings.HasPrefix(resp.DataURI, "data:image/png;base64,"))
	assert.Equal(t, 32, resp.OriginalWidth)
	assert.Equal(t, 32, resp.OriginalHeight)
	assert.False(t, resp.UsedFallback)
}

func TestRemove_MissingFile(t *testing.T) {
	r, _ := newTestRouter(t, &stubSegmenter{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove", strings.NewReader(""))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemove_FromURL(t *testing.T) {
	r, _ := newTestRouter(t, &stubSegmenter{})

	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 40, G: 90, B: 160, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBuf.Bytes())
	}))
	defer srv.Close()

	form := url.Values{"url": {srv.URL}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	decoded, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
}

func TestRemove_FromURL_FetchError(t *testing.T) {
	r, _ := newTestRouter(t, &stubSegmenter{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	form := url.Values{"url": {srv.URL}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRemove_ResultCache(t *testing.T) {
	stub := &stubSegmenter{}
	r, _ := newTestRouter(t, stub)

	for i := 0; i < 2; i++ {
		body, contentType := multipartImage(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/remove", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, int32(1), stub.calls.Load(), "identical upload must hit the result cache")
}

func TestRemove_Trim(t *testing.T) {
	r, _ := newTestRouter(t, &stubSegmenter{})

	body, contentType := multipartImage(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove?trim=1", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	decoded, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	// 全图都是主体，trim 后尺寸不变
	assert.Equal(t, 64, decoded.Bounds().Dx())
}
