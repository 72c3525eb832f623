package segment

import "errors"

var (
	// ErrValidation 输入校验失败，流水线不会启动
	ErrValidation = errors.New("validation failed")
	// ErrDecode 图片字节无法解码
	ErrDecode = errors.New("decode image failed")
	// ErrModelLoad 后端初始化失败，可重试
	ErrModelLoad = errors.New("model load failed")
	// ErrInference 后端推理失败，不自动重试
	ErrInference = errors.New("inference failed")
	// ErrInFlight 同一 Pipeline 实例上已有请求在执行
	ErrInFlight = errors.New("pipeline already in flight")
)
