package segment

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chaos-io/cutout/utils"
)

// Factory 构造底层分割后端，progress 汇报模型加载进度（0-100 单调）
type Factory func(ctx context.Context, progress ProgressFunc) (Segmenter, error)

// Provider 持有分割后端的单例，并对并发加载做 in-flight 去重：
// 首次加载完成前到达的所有 Get 共享同一次加载；加载失败不缓存，
// 失败后的下一次 Get 会从头重试。
type Provider struct {
	factory Factory

	mu     sync.Mutex
	cached Segmenter
	group  singleflight.Group
}

func NewProvider(factory Factory) *Provider {
	return &Provider{factory: factory}
}

// Get 返回缓存的后端，必要时触发（唯一一次）加载
func (p *Provider) Get(ctx context.Context, progress ProgressFunc) (Segmenter, error) {
	p.mu.Lock()
	if p.cached != nil {
		cached := p.cached
		p.mu.Unlock()
		if progress != nil {
			progress(Progress{Stage: StageLoadingModel, Percent: 100, Message: "model ready"})
		}
		return cached, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("segmenter", func() (interface{}, error) {
		seg, err := p.factory(ctx, progress)
		if err != nil {
			// 失败不落缓存，singleflight 的 key 在 Do 返回后即清除，
			// 后续调用会重新走 factory
			return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
		}
		p.mu.Lock()
		p.cached = seg
		p.mu.Unlock()
		return seg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Segmenter), nil
}

// Release 释放缓存的单例，允许干净地重新加载；空载时为 no-op
func (p *Provider) Release() {
	p.mu.Lock()
	cached := p.cached
	p.cached = nil
	p.mu.Unlock()

	if cached != nil {
		if err := cached.Close(); err != nil {
			utils.Logger.Warn("failed to close segmenter", zap.Error(err))
		}
	}
}
