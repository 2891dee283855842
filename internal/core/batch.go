package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
)

// BatchCrawler 批量爬取器
// 多个域名依次爬取, 每个域名独立的任务和报告
type BatchCrawler struct {
	config         models.CrawlConfig
	outputDir      string
	batchDelay     time.Duration
	continueOnErr  bool
	headerProvider models.HeaderProvider
	progress       ProgressFunc
	newFetcher     fetcherFactory
}

// BatchResult 批量爬取结果
type BatchResult struct {
	Domain      string
	TaskID      string
	Status      models.CrawlStatus
	Success     bool
	Error       error
	Stats       models.CrawlStats
	Contacts    []models.Contact
	ProcessedAt time.Time
	Duration    float64
}

// BatchSummary 批量爬取摘要
type BatchSummary struct {
	TotalDomains  int
	SuccessCount  int
	FailCount     int
	AbortedCount  int
	TotalContacts int
	TotalSources  int
	TotalDuration float64
	Results       []BatchResult
}

// NewBatchCrawler 创建批量爬取器
func NewBatchCrawler(config models.CrawlConfig, outputDir string, batchDelay time.Duration, continueOnErr bool, headerProvider models.HeaderProvider) *BatchCrawler {
	return &BatchCrawler{
		config:         config,
		outputDir:      outputDir,
		batchDelay:     batchDelay,
		continueOnErr:  continueOnErr,
		headerProvider: headerProvider,
		newFetcher:     newPageFetcher,
	}
}

// SetProgress 设置进度回调, 传递给每个域名的爬取器
func (bc *BatchCrawler) SetProgress(progress ProgressFunc) {
	bc.progress = progress
}

// CrawlBatch 批量爬取域名列表
// ctx 取消时当前域名以中止状态结束, 剩余域名不再处理
func (bc *BatchCrawler) CrawlBatch(ctx context.Context, domains []string) (*BatchSummary, error) {
	if len(domains) == 0 {
		return nil, fmt.Errorf("没有需要爬取的域名")
	}

	utils.Infof("🚀 开始批量爬取: %d个域名", len(domains))

	summary := &BatchSummary{
		TotalDomains: len(domains),
		Results:      make([]BatchResult, 0, len(domains)),
	}

	startTime := time.Now()

	for i, domain := range domains {
		if len(domains) > 1 {
			utils.Infof("==================== [%d/%d] ====================", i+1, len(domains))
		}

		// 执行单个域名爬取
		result := bc.crawlSingleDomain(ctx, domain)
		summary.Results = append(summary.Results, result)

		// 更新统计
		summary.TotalContacts += result.Stats.Contacts
		summary.TotalSources += result.Stats.Sources

		if result.Status == models.StatusAborted {
			summary.AbortedCount++
			utils.Warn("批量爬取已中止")
			break
		}

		if result.Success {
			summary.SuccessCount++
		} else {
			summary.FailCount++
			utils.Errorf("❌ 爬取失败: %v", result.Error)

			// 如果不继续处理错误,则停止
			if !bc.continueOnErr {
				utils.Warn("批量爬取中止 (--continue-on-error=false)")
				break
			}
		}

		// 批量延迟(最后一个域名不需要延迟)
		if i < len(domains)-1 && bc.batchDelay > 0 {
			utils.Debugf("等待 %s 后处理下一个域名...", bc.batchDelay)
			if err := sleepContext(ctx, bc.batchDelay); err != nil {
				utils.Warn("批量爬取已中止")
				break
			}
		}
	}

	summary.TotalDuration = time.Since(startTime).Seconds()

	// 显示批量爬取摘要
	bc.printSummary(summary)

	return summary, nil
}

// crawlSingleDomain 爬取单个域名
func (bc *BatchCrawler) crawlSingleDomain(ctx context.Context, domain string) BatchResult {
	result := BatchResult{
		Domain:      domain,
		Status:      models.StatusFailed,
		ProcessedAt: time.Now(),
	}

	startTime := time.Now()

	// 创建爬取器
	crawler, err := NewCrawler(domain, bc.config, bc.outputDir, bc.headerProvider)
	if err != nil {
		result.Error = fmt.Errorf("创建爬取器失败: %w", err)
		result.Duration = time.Since(startTime).Seconds()
		return result
	}
	crawler.newFetcher = bc.newFetcher
	crawler.SetProgress(bc.progress)

	// 执行爬取
	err = crawler.Crawl(ctx)

	task := crawler.Task()
	result.Domain = task.Domain
	result.TaskID = task.ID
	result.Status = task.Status
	result.Stats = task.Stats
	result.Contacts = crawler.GetContacts()
	result.Duration = time.Since(startTime).Seconds()

	switch {
	case err == nil:
		result.Success = true
	case errors.Is(err, ErrCrawlAborted):
		result.Status = models.StatusAborted
	default:
		result.Error = err
		if !result.Status.IsTerminal() {
			result.Status = models.StatusFailed
		}
	}

	return result
}

// sleepContext 等待指定时间, ctx 取消时提前返回
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// printSummary 打印批量爬取摘要
func (bc *BatchCrawler) printSummary(summary *BatchSummary) {
	utils.Info("==================================================")
	utils.Info("📊 批量爬取摘要")
	utils.Info("==================================================")
	utils.Infof("总域名数: %d", summary.TotalDomains)
	utils.Infof("✅ 成功: %d", summary.SuccessCount)
	utils.Infof("❌ 失败: %d", summary.FailCount)
	if summary.AbortedCount > 0 {
		utils.Infof("⚠️  中止: %d", summary.AbortedCount)
	}
	utils.Infof("📧 联系人总数: %d", summary.TotalContacts)
	utils.Infof("🔗 出处总数: %d", summary.TotalSources)
	utils.Infof("⏱️  总耗时: %.2f秒", summary.TotalDuration)
	utils.Info("==================================================")

	// 显示失败的域名
	if summary.FailCount > 0 {
		utils.Warn("失败的域名:")
		for _, result := range summary.Results {
			if !result.Success && result.Error != nil {
				utils.Warnf("  - %s: %v", result.Domain, result.Error)
			}
		}
	}
}
