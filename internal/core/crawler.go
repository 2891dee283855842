package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/crawlers"
	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
)

// ErrCrawlAborted 爬取被中止(Ctrl+C 或调用 Abort)
var ErrCrawlAborted = errors.New("爬取已中止")

// ProgressFunc 每处理完一页以及爬取结束时调用
type ProgressFunc func(domain string, status models.CrawlStatus, stats models.CrawlStats)

// fetcherFactory 按配置创建页面获取器, 返回的关闭函数在爬取结束后调用
type fetcherFactory func(config models.CrawlConfig, headerProvider models.HeaderProvider) (PageFetcher, func() error)

// Crawler 单个域名的爬取协调器
// 负责创建获取器、运行 Spy、生成报告
type Crawler struct {
	task      *models.CrawlTask
	outputDir string

	// HTTP头部提供者
	headerProvider models.HeaderProvider

	progress   ProgressFunc
	newFetcher fetcherFactory

	mu       sync.RWMutex
	spy      *Spy
	contacts []models.Contact
	report   *models.CrawlReport
}

// NewCrawler 创建主爬取器
func NewCrawler(domain string, config models.CrawlConfig, outputDir string, headerProvider models.HeaderProvider) (*Crawler, error) {
	task, err := models.NewCrawlTask(domain, config)
	if err != nil {
		return nil, fmt.Errorf("创建爬取任务失败: %w", err)
	}

	return &Crawler{
		task:           task,
		outputDir:      outputDir,
		headerProvider: headerProvider,
		newFetcher:     newPageFetcher,
	}, nil
}

// SetProgress 设置进度回调
func (c *Crawler) SetProgress(progress ProgressFunc) {
	c.progress = progress
}

// newPageFetcher 根据 fetch_mode 创建获取器
func newPageFetcher(config models.CrawlConfig, headerProvider models.HeaderProvider) (PageFetcher, func() error) {
	if config.FetchMode == models.FetchBrowser {
		bf := crawlers.NewBrowserFetcher(config, headerProvider)
		return bf, bf.Close
	}
	return crawlers.NewStaticFetcher(config, headerProvider), func() error { return nil }
}

// Crawl 执行爬取任务
// 执行流程:
//  1. 创建页面获取器和首页解析器
//  2. 运行 Spy 直到进入终止状态
//  3. 记录任务状态并生成报告(中止和失败时同样生成)
//
// 返回: completed 时为nil, aborted 时为 ErrCrawlAborted, failed 时为终止错误
func (c *Crawler) Crawl(ctx context.Context) error {
	cfg := c.task.Config

	utils.Infof("🚀 开始爬取任务")
	utils.Infof("任务ID: %s", c.task.ID)
	utils.Infof("域名: %s", c.task.Domain)
	utils.Infof("获取方式: %s", cfg.FetchMode)
	utils.Infof("输出目录: %s", c.GetOutputDir())

	fetcher, closeFetcher := c.newFetcher(cfg, c.headerProvider)
	defer func() {
		if err := closeFetcher(); err != nil {
			utils.Warnf("关闭页面获取器失败: %v", err)
		}
	}()

	resolver, err := crawlers.NewDuckDuckGoResolver(fetcher, cfg.Origin)
	if err != nil {
		return err
	}

	var spy *Spy
	spyConfig := SpyConfig{
		Domain:         c.task.Domain,
		CrawlDelay:     cfg.CrawlDelay,
		MaximumEmails:  cfg.MaximumEmails,
		MaxPages:       cfg.MaxPages,
		ExcludedEmails: cfg.ExcludedEmails,
		Origin:         cfg.Origin,
		Callback: func() {
			if c.progress != nil {
				c.progress(c.task.Domain, spy.State(), spy.Stats())
			}
		},
	}

	spy, err = NewSpy(spyConfig, resolver, fetcher)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.spy = spy
	c.mu.Unlock()

	startedAt := time.Now()
	c.task.StartedAt = &startedAt
	c.task.Status = models.StatusRunning

	if err := spy.Start(ctx); err != nil {
		return err
	}
	status := spy.Wait()

	completedAt := time.Now()
	c.task.CompletedAt = &completedAt
	c.task.Status = status
	c.task.Stats = spy.Stats()
	if spy.Err() != nil {
		c.task.ErrorMessage = spy.Err().Error()
	}

	contacts := spy.Contacts()
	c.mu.Lock()
	c.contacts = contacts
	c.mu.Unlock()

	// 生成爬取报告
	reporter := utils.NewReporter(c.outputDir, c.task.Domain)
	report, err := reporter.GenerateReport(c.task, contacts)
	if err != nil {
		utils.Warnf("生成报告失败: %v", err)
	} else {
		c.mu.Lock()
		c.report = report
		c.mu.Unlock()
	}

	utils.Infof("联系人数: %d", c.task.Stats.Contacts)
	utils.Infof("总耗时: %.2f秒", c.task.Stats.Duration)

	switch status {
	case models.StatusAborted:
		utils.Warnf("⚠️  爬取已中止, 已保存部分结果")
		return ErrCrawlAborted
	case models.StatusFailed:
		return fmt.Errorf("爬取 %s 失败: %w", c.task.Domain, spy.Err())
	}

	utils.Infof("✅ 爬取任务完成")
	return nil
}

// Abort 中止正在进行的爬取
func (c *Crawler) Abort() {
	c.mu.RLock()
	spy := c.spy
	c.mu.RUnlock()

	if spy != nil {
		spy.Abort()
	}
}

// GetStats 获取统计信息
func (c *Crawler) GetStats() models.CrawlStats {
	c.mu.RLock()
	spy := c.spy
	c.mu.RUnlock()

	if spy == nil {
		return models.CrawlStats{}
	}
	return spy.Stats()
}

// GetContacts 获取联系人快照
func (c *Crawler) GetContacts() []models.Contact {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.spy != nil && c.contacts == nil {
		return c.spy.Contacts()
	}
	return models.CloneContacts(c.contacts)
}

// Task 爬取任务
func (c *Crawler) Task() *models.CrawlTask {
	return c.task
}

// Report 最近一次生成的报告, 未生成时为nil
func (c *Crawler) Report() *models.CrawlReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}

// GetOutputDir 获取输出目录路径
func (c *Crawler) GetOutputDir() string {
	return filepath.Join(c.outputDir, c.task.Domain)
}
