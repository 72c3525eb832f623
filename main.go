package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/handler"
	"github.com/chaos-io/cutout/middleware"
	"github.com/chaos-io/cutout/segment"
	"github.com/chaos-io/cutout/segment/u2net"
	"github.com/chaos-io/cutout/utils"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	cfg := config.New()

	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting cutout server",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit))

	// 模型权重缓存目录
	if err := os.MkdirAll(cfg.Model.Dir, 0755); err != nil {
		utils.Logger.Fatal("failed to create model directory", zap.Error(err))
	}

	provider := segment.NewProvider(func(ctx context.Context, progress segment.ProgressFunc) (segment.Segmenter, error) {
		return u2net.New(ctx, u2net.Config{
			ModelDir:  cfg.Model.Dir,
			ModelURL:  cfg.Model.URL,
			InputSize: cfg.Model.InputSize,
		}, progress)
	})
	defer provider.Release()

	pipeline := segment.NewPipeline(provider, segment.Options{
		TargetSize:       cfg.Pipeline.TargetSize,
		MaxUploadSize:    cfg.Upload.MaxSize,
		AllowedTypes:     cfg.Upload.AllowedTypes,
		InferenceTimeout: cfg.Pipeline.InferenceTimeout,
		FeatherRadius:    cfg.Pipeline.FeatherRadius,
	})

	removeHandler := handler.NewRemoveHandler(cfg, pipeline)

	// 定期清理权重目录里的下载残留
	janitor := cron.New()
	_, err := janitor.AddFunc("@hourly", func() {
		sweepStaleFiles(cfg.Model.Dir, cfg.Cache.StaleFileAge)
	})
	if err != nil {
		utils.Logger.Fatal("failed to schedule janitor", zap.Error(err))
	}
	janitor.Start()
	defer janitor.Stop()

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	api := r.Group("/api/v1")
	{
		api.POST("/remove", removeHandler.Remove)
	}

	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := r.Run(cfg.Server.Port); err != nil {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}

// sweepStaleFiles 删除目录里超过 age 未修改的 .part 半成品
func sweepStaleFiles(dir string, age time.Duration) {
	cutoff := time.Now().Add(-age)
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".part" && info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				utils.Logger.Warn("failed to remove stale file",
					zap.String("file", path), zap.Error(err))
			} else {
				utils.Logger.Info("removed stale file", zap.String("file", path))
			}
		}
		return nil
	})
}
