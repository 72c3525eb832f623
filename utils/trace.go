package utils

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录一段操作的耗时，defer Trace("xxx")() 使用
func Trace(name string) func() {
	start := time.Now()
	return func() {
		Logger.Info("trace", zap.String("name", name), zap.Duration("elapsed", time.Since(start)))
	}
}
