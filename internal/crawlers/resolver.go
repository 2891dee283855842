package crawlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"regexp"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
	"golang.org/x/net/html"
)

// bootstrapRefRe 引导页脚本中以单引号包裹的结果脚本地址
var bootstrapRefRe = regexp.MustCompile(`'(/d\.js[^']*)`)

// Fetcher 获取单个地址的响应体
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) ([]byte, error)
}

// DuckDuckGoResolver 通过搜索引导页找到第一页结果的地址
type DuckDuckGoResolver struct {
	fetcher Fetcher
	origin  *url.URL
}

// NewDuckDuckGoResolver 创建首页解析器, origin为空时使用默认地址
func NewDuckDuckGoResolver(fetcher Fetcher, origin string) (*DuckDuckGoResolver, error) {
	if origin == "" {
		origin = models.DefaultOrigin
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("无效的源地址: %s", origin)
	}
	return &DuckDuckGoResolver{fetcher: fetcher, origin: u}, nil
}

// SearchURL 返回引号包裹的 "@domain" 查询地址
func (r *DuckDuckGoResolver) SearchURL(domain string) string {
	query := url.Values{}
	query.Set("q", `"@`+domain+`"`)
	query.Set("ia", "web")

	u := *r.origin
	u.Path = "/"
	u.RawQuery = query.Encode()
	return u.String()
}

// FirstPage 获取引导页并提取第一页结果地址
func (r *DuckDuckGoResolver) FirstPage(ctx context.Context, domain string) (string, error) {
	searchURL := r.SearchURL(domain)
	utils.Debugf("获取引导页: %s", searchURL)

	body, err := r.fetcher.Fetch(ctx, searchURL)
	if err != nil {
		return "", err
	}

	ref := extractBootstrapRef(body)
	if ref == "" {
		return "", fmt.Errorf("%w: %s", ErrFirstPageNotFound, searchURL)
	}

	rel, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFirstPageNotFound, err)
	}
	return r.origin.ResolveReference(rel).String(), nil
}

// extractBootstrapRef 先在<script>文本中查找, 找不到再扫描整个文档
func extractBootstrapRef(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inScript := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if tokenizer.Err() != io.EOF {
				utils.Debugf("解析引导页失败: %v", tokenizer.Err())
			}
			if m := bootstrapRefRe.FindSubmatch(body); m != nil {
				return string(m[1])
			}
			return ""

		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			inScript = string(name) == "script"

		case html.EndTagToken:
			inScript = false

		case html.TextToken:
			if !inScript {
				continue
			}
			if m := bootstrapRefRe.FindSubmatch(tokenizer.Text()); m != nil {
				return string(m[1])
			}
		}
	}
}
