package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CrawlStatus 爬取状态
type CrawlStatus string

const (
	StatusIdle      CrawlStatus = "idle"      // 未启动
	StatusRunning   CrawlStatus = "running"   // 执行中
	StatusCompleted CrawlStatus = "completed" // 已完成(自然结束或达到上限)
	StatusAborted   CrawlStatus = "aborted"   // 已取消
	StatusFailed    CrawlStatus = "failed"    // 失败
)

// IsTerminal 是否为终止状态
func (s CrawlStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

// FetchMode 页面获取方式
type FetchMode string

const (
	FetchStatic  FetchMode = "static"  // HTTP直接获取(Colly)
	FetchBrowser FetchMode = "browser" // 浏览器渲染获取(Rod)
)

const (
	// DefaultCrawlDelay 默认翻页间隔
	DefaultCrawlDelay = 100 * time.Millisecond
	// DefaultMaximumEmails 默认最多收集的邮箱数
	DefaultMaximumEmails = 100
	// DefaultOrigin 搜索服务的固定源站
	DefaultOrigin = "https://duckduckgo.com"
)

// CrawlStats 爬取统计
type CrawlStats struct {
	PagesVisited   int     `json:"pages_visited"`   // 已处理页面数
	RecordsSeen    int     `json:"records_seen"`    // 解析的原始记录数
	RecordsSkipped int     `json:"records_skipped"` // 未提取到邮箱的记录数
	Contacts       int     `json:"contacts"`        // 联系人数
	Sources        int     `json:"sources"`         // 出处总数
	Duration       float64 `json:"duration"`        // 总耗时(秒)
}

// CrawlConfig 爬取配置
type CrawlConfig struct {
	CrawlDelay     time.Duration `json:"crawl_delay" mapstructure:"crawl_delay"`         // 翻页间隔 (默认:100ms)
	MaximumEmails  int           `json:"maximum_emails" mapstructure:"maximum_emails"`   // 联系人数超过该值后停止 (默认:100)
	MaxPages       int           `json:"max_pages" mapstructure:"max_pages"`             // 最多翻页数,0表示不限制
	ExcludedEmails []string      `json:"excluded_emails" mapstructure:"excluded_emails"` // 忽略的邮箱地址
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`                 // 单页请求超时
	FetchMode      FetchMode     `json:"fetch_mode" mapstructure:"fetch_mode"`           // static|browser
	Headless       bool          `json:"headless" mapstructure:"headless"`               // 浏览器模式下是否无头
	Origin         string        `json:"origin" mapstructure:"origin"`                   // 搜索服务源站
}

// DefaultCrawlConfig 默认爬取配置
func DefaultCrawlConfig() CrawlConfig {
	return CrawlConfig{
		CrawlDelay:     DefaultCrawlDelay,
		MaximumEmails:  DefaultMaximumEmails,
		ExcludedEmails: []string{DefaultExcludedEmail},
		Timeout:        30 * time.Second,
		FetchMode:      FetchStatic,
		Headless:       true,
		Origin:         DefaultOrigin,
	}
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.CrawlDelay < 0 || c.CrawlDelay > time.Minute {
		return fmt.Errorf("翻页间隔必须在0-60秒之间")
	}
	if c.MaximumEmails < 1 {
		return fmt.Errorf("最大邮箱数必须大于0")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("最大页数不能为负数")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("请求超时必须大于0")
	}
	switch c.FetchMode {
	case FetchStatic, FetchBrowser:
	default:
		return fmt.Errorf("无效的获取方式: %s (有效值: static, browser)", c.FetchMode)
	}
	if err := ValidateURL(c.Origin); err != nil {
		return fmt.Errorf("无效的源站: %w", err)
	}
	return nil
}

// CrawlTask 一次域名爬取任务
type CrawlTask struct {
	// 基本信息
	ID          string     `json:"id"`                     // 任务唯一ID (UUID)
	Domain      string     `json:"domain"`                 // 目标邮箱域名
	CreatedAt   time.Time  `json:"created_at"`             // 创建时间
	StartedAt   *time.Time `json:"started_at,omitempty"`   // 开始时间
	CompletedAt *time.Time `json:"completed_at,omitempty"` // 完成时间

	// 配置参数
	Config CrawlConfig `json:"config"`

	// 执行状态
	Status CrawlStatus `json:"status"`
	Stats  CrawlStats  `json:"stats"`

	// 错误信息
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlTask 创建新任务
func NewCrawlTask(domain string, config CrawlConfig) (*CrawlTask, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &CrawlTask{
		ID:        generateID(),
		Domain:    strings.ToLower(NormalizeDomain(domain)),
		CreatedAt: time.Now(),
		Config:    config,
		Status:    StatusIdle,
	}, nil
}

// ToJSON 序列化为JSON
func (t *CrawlTask) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// FromJSON 从JSON反序列化
func (t *CrawlTask) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
