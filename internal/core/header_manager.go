package core

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/RecoveryAshes/EmailSpy/internal/config"
	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent, DuckDuckGo 对非浏览器UA会返回空结果页
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"

	// DefaultAccept 同时接受搜索页HTML与 d.js 结果脚本
	DefaultAccept = "text/html,application/xhtml+xml,application/javascript;q=0.9,*/*;q=0.8"

	// DefaultAcceptLanguage 默认语言
	DefaultAcceptLanguage = "en-US,en;q=0.9"
)

// HeaderManager 请求头管理器, 实现 models.HeaderProvider
//
// 合并顺序: 内置默认 < 配置文件(headers.yaml) < 命令行 -H
// 首次 GetHeaders 时才加载并校验配置文件, 成功后结果被缓存,
// 抓取过程中每个请求都会调用 GetHeaders, 不会重复读盘
type HeaderManager struct {
	configLoader *config.HeaderConfigLoader
	validator    *utils.HeaderValidator
	redactor     *utils.HeaderRedactor

	defaults http.Header
	config   http.Header
	cli      http.Header

	mu     sync.Mutex
	loaded bool
	merged http.Header
}

// NewHeaderManager 创建请求头管理器
// configFile 为空时使用 config.DefaultConfigFile; cliHeaders 为 -H 参数原样列表
func NewHeaderManager(configFile string, cliHeaders []string) (*HeaderManager, error) {
	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}

	return &HeaderManager{
		configLoader: config.NewHeaderConfigLoader(configFile),
		validator:    utils.NewHeaderValidator(),
		redactor:     utils.NewHeaderRedactor(),
		defaults:     defaultHeaders(),
		config:       make(http.Header),
		cli:          cli,
	}, nil
}

func defaultHeaders() http.Header {
	h := make(http.Header)
	h.Set("User-Agent", DefaultUserAgent)
	h.Set("Accept", DefaultAccept)
	h.Set("Accept-Language", DefaultAcceptLanguage)
	h.Set("Accept-Encoding", "gzip, deflate, br")
	return h
}

// SetReferer 以搜索入口为默认 Referer, d.js 请求缺少 Referer 时常被拒绝
// 配置文件或命令行里显式给出的 Referer 仍然优先
func (hm *HeaderManager) SetReferer(origin string) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return
	}

	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.defaults.Set("Referer", u.Scheme+"://"+u.Host+"/")
	hm.merged = nil
}

// LoadConfig 加载配置文件, 已加载时直接返回
func (hm *HeaderManager) LoadConfig() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.loadLocked()
}

func (hm *HeaderManager) loadLocked() error {
	if hm.loaded {
		return nil
	}

	headerConfig, err := hm.configLoader.LoadConfig()
	if err != nil {
		utils.Errorf("❌ 加载请求头配置失败: %v", err)
		return err
	}

	hm.config = make(http.Header, len(headerConfig.Headers))
	for name, value := range headerConfig.Headers {
		hm.config.Set(name, value)
	}
	hm.loaded = true
	hm.merged = nil

	if len(hm.config) > 0 {
		utils.Debugf("已加载 %d 个自定义请求头: %s", len(hm.config), hm.redactor.RedactToString(hm.config))
	}
	return nil
}

// Validate 依次校验默认、配置文件、命令行三层头部
func (hm *HeaderManager) Validate() error {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.validateLocked()
}

func (hm *HeaderManager) validateLocked() error {
	layers := []struct {
		name    string
		headers http.Header
	}{
		{"默认", hm.defaults},
		{"配置文件", hm.config},
		{"命令行", hm.cli},
	}
	for _, layer := range layers {
		if err := hm.validator.Validate(layer.headers); err != nil {
			utils.Errorf("%s请求头校验失败: %v", layer.name, err)
			return err
		}
	}
	return nil
}

// GetMergedHeaders 按 默认 < 配置文件 < 命令行 合并, 返回副本
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.mergeLocked().Clone()
}

func (hm *HeaderManager) mergeLocked() http.Header {
	if hm.merged != nil {
		return hm.merged
	}

	merged := hm.defaults.Clone()
	for _, layer := range []http.Header{hm.config, hm.cli} {
		for name, values := range layer {
			merged[name] = append([]string(nil), values...)
		}
	}
	hm.merged = merged
	return merged
}

// GetSafeHeaders 返回脱敏后的合并头部, 用于日志和配置校验输出
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 models.HeaderProvider
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if err := hm.loadLocked(); err != nil {
		return nil, err
	}
	if err := hm.validateLocked(); err != nil {
		return nil, err
	}
	return hm.mergeLocked().Clone(), nil
}
