package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 报告生成器
type Reporter struct {
	outputDir string
	domain    string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string, domain string) *Reporter {
	return &Reporter{
		outputDir: outputDir,
		domain:    domain,
	}
}

// ReportsDir 报告目录: <输出目录>/<域名>/reports
func (r *Reporter) ReportsDir() string {
	return filepath.Join(r.outputDir, r.domain, "reports")
}

// GenerateReport 生成爬取报告
// 中止或失败的爬取同样生成报告, 保留已获得的联系人
func (r *Reporter) GenerateReport(task *models.CrawlTask, contacts []models.Contact) (*models.CrawlReport, error) {
	reportsDir := r.ReportsDir()
	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return nil, fmt.Errorf("创建报告目录失败: %w", err)
	}

	if contacts == nil {
		contacts = []models.Contact{}
	}

	endTime := time.Now()
	if task.CompletedAt != nil {
		endTime = *task.CompletedAt
	}
	startTime := task.CreatedAt
	if task.StartedAt != nil {
		startTime = *task.StartedAt
	}

	crawlReport := &models.CrawlReport{
		TaskID:    task.ID,
		Domain:    task.Domain,
		Status:    task.Status,
		Error:     task.ErrorMessage,
		StartTime: startTime,
		EndTime:   endTime,
		Duration:  task.Stats.Duration,
		Stats:     task.Stats,
		Contacts:  contacts,
		OutputDir: filepath.Join(r.outputDir, r.domain),
		Config:    task.Config,
	}

	// 保存主报告
	if err := r.saveJSONReport(reportsDir, "crawl_report.json", crawlReport); err != nil {
		return nil, err
	}

	// 保存联系人列表
	if err := r.saveJSONReport(reportsDir, "contacts.json", contacts); err != nil {
		return nil, err
	}

	Infof("✅ 报告已生成: %s", reportsDir)
	return crawlReport, nil
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) error {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return nil
}

// NewProgressBar 创建进度条, max为-1时显示为不定长的旋转指示器
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
