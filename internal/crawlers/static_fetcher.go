package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
)

const bodyCtxKey = "body"

// StaticFetcher 基于Colly的页面获取器
// Collector 以同步模式运行, 每次 Fetch 返回时回调已全部执行完毕
type StaticFetcher struct {
	collector *colly.Collector

	// HTTP头部提供者
	headerProvider models.HeaderProvider

	// 串行化请求, Colly的回调按Context区分结果
	mu sync.Mutex
}

// NewStaticFetcher 创建静态页面获取器
func NewStaticFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) *StaticFetcher {
	c := colly.NewCollector(
		// 分页地址可能与引导页相同, 允许重复访问
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.SetRequestTimeout(config.Timeout)

	sf := &StaticFetcher{
		collector:      c,
		headerProvider: headerProvider,
	}
	sf.setupCallbacks()

	utils.Debugf("静态获取器: 请求超时 %s", config.Timeout)
	return sf
}

// setupCallbacks 设置Colly回调
func (sf *StaticFetcher) setupCallbacks() {
	sf.collector.OnRequest(func(r *colly.Request) {
		if sf.headerProvider != nil {
			headers, err := sf.headerProvider.GetHeaders()
			if err != nil {
				utils.Warnf("获取HTTP头部失败: %v", err)
			} else {
				for name, values := range headers {
					if len(values) > 0 {
						r.Headers.Set(name, values[0])
					}
				}
			}
		}
		utils.Debugf("请求: %s", r.URL.String())
	})

	sf.collector.OnResponse(func(r *colly.Response) {
		body := r.Body
		if encoding := r.Headers.Get("Content-Encoding"); encoding != "" {
			decompressed, err := decompressResponse(encoding, r.Body)
			if err != nil {
				// Colly可能已经解压过, 保留原始body
				utils.Debugf("解压响应失败 [%s] (编码=%s): %v", r.Request.URL, encoding, err)
			} else {
				body = decompressed
			}
		}
		r.Ctx.Put(bodyCtxKey, body)
	})
}

// Fetch 获取页面正文
func (sf *StaticFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	sf.mu.Lock()
	defer sf.mu.Unlock()

	reqCtx := colly.NewContext()
	if err := sf.collector.Request("GET", pageURL, nil, reqCtx, nil); err != nil {
		return nil, fmt.Errorf("%w [%s]: %v", ErrFetch, pageURL, err)
	}

	body, ok := reqCtx.GetAny(bodyCtxKey).([]byte)
	if !ok {
		return nil, fmt.Errorf("%w [%s]: 响应为空", ErrFetch, pageURL)
	}
	return body, nil
}

// decompressResponse 根据Content-Encoding头部解压响应体
// 支持 gzip, deflate, br (Brotli) 三种压缩格式
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "gzip":
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
