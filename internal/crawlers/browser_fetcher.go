package crawlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// pageContentJS HTML文档返回完整源码, 脚本响应(d.js)返回浏览器展示的原文
const pageContentJS = `() => {
	const type = document.contentType || '';
	if (type.indexOf('html') >= 0) {
		return document.documentElement.outerHTML;
	}
	return document.body ? document.body.innerText : '';
}`

// BrowserFetcher 基于go-rod的页面获取器
// 浏览器在第一次 Fetch 时启动, 之后复用同一个标签页
type BrowserFetcher struct {
	config models.CrawlConfig

	// HTTP头部提供者
	headerProvider models.HeaderProvider

	// launch 启动浏览器进程, 返回调试地址和结束进程的函数
	launch func(headless bool) (controlURL string, kill func(), err error)
	// connect 连接到已启动的浏览器
	connect func(controlURL string) (*rod.Browser, error)

	browser *rod.Browser
	page    *rod.Page
	kill    func()
	mu      sync.Mutex
}

// NewBrowserFetcher 创建浏览器页面获取器
func NewBrowserFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) *BrowserFetcher {
	return &BrowserFetcher{
		config:         config,
		headerProvider: headerProvider,
		launch:         launchBrowser,
		connect:        connectBrowser,
	}
}

func launchBrowser(headless bool) (string, func(), error) {
	l := launcher.New().Headless(headless)
	controlURL, err := l.Launch()
	if err != nil {
		return "", nil, err
	}
	return controlURL, l.Kill, nil
}

func connectBrowser(controlURL string) (*rod.Browser, error) {
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	return browser, nil
}

// Fetch 导航到页面并返回其内容
func (bf *BrowserFetcher) Fetch(ctx context.Context, pageURL string) ([]byte, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if err := bf.ensurePage(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	page := bf.page.Context(ctx).Timeout(bf.config.Timeout)

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("%w [%s]: 导航失败: %v", ErrFetch, pageURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("%w [%s]: 等待页面加载失败: %v", ErrFetch, pageURL, err)
	}

	result, err := page.Eval(pageContentJS)
	if err != nil {
		return nil, fmt.Errorf("%w [%s]: 提取页面内容失败: %v", ErrFetch, pageURL, err)
	}

	utils.Debugf("浏览器页面加载完成: %s", pageURL)
	return []byte(result.Value.Str()), nil
}

// ensurePage 启动浏览器并打开标签页
func (bf *BrowserFetcher) ensurePage() error {
	if bf.page != nil {
		return nil
	}

	controlURL, kill, err := bf.launch(bf.config.Headless)
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}

	// 之后任何一步失败都要结束已启动的进程
	browser, err := bf.connect(controlURL)
	if err != nil {
		kill()
		return fmt.Errorf("连接浏览器失败: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		kill()
		return fmt.Errorf("创建标签页失败: %w", err)
	}

	if err := bf.applyHeaders(page); err != nil {
		utils.Warnf("设置浏览器请求头失败: %v", err)
	}

	bf.browser = browser
	bf.page = page
	bf.kill = kill
	utils.Debugf("浏览器已启动: %s", controlURL)
	return nil
}

// applyHeaders 将头部提供者的User-Agent和其余头部应用到标签页
func (bf *BrowserFetcher) applyHeaders(page *rod.Page) error {
	if bf.headerProvider == nil {
		return nil
	}
	headers, err := bf.headerProvider.GetHeaders()
	if err != nil {
		return err
	}

	extra := make([]string, 0, len(headers)*2)
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		switch name {
		case "User-Agent":
			if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: values[0]}); err != nil {
				return err
			}
		case "Accept-Encoding":
			// 由浏览器自行协商
		default:
			extra = append(extra, name, values[0])
		}
	}
	if len(extra) > 0 {
		if _, err := page.SetExtraHeaders(extra); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭浏览器
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.browser == nil {
		return nil
	}
	err := bf.browser.Close()
	if bf.kill != nil {
		bf.kill()
	}
	bf.browser, bf.page, bf.kill = nil, nil, nil

	utils.Debugf("浏览器已关闭")
	return err
}
