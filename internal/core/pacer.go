package core

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer 页面之间的等待
// 每次等待都使用新的单令牌桶, 取走令牌后再等待下一个令牌, 即完整的一个间隔
// 间隔从上一页处理完之后算起, 与抓取耗时无关
type pacer struct {
	delay time.Duration
}

func newPacer(delay time.Duration) *pacer {
	return &pacer{delay: delay}
}

// Wait 等待一个间隔, ctx 结束时提前返回其错误
func (p *pacer) Wait(ctx context.Context) error {
	if p.delay <= 0 {
		return nil
	}

	limiter := rate.NewLimiter(rate.Every(p.delay), 1)
	limiter.Allow()

	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 截止时间早于下一个令牌, 等到截止为止
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}
