package models

import (
	"encoding/json"
	"time"
)

// CrawlReport 爬取报告
type CrawlReport struct {
	// 任务信息
	TaskID string      `json:"task_id"`
	Domain string      `json:"domain"`
	Status CrawlStatus `json:"status"`
	Error  string      `json:"error,omitempty"`

	// 时间信息
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  float64   `json:"duration"` // 秒

	// 统计信息
	Stats CrawlStats `json:"stats"`

	// 结果
	Contacts []Contact `json:"contacts"`

	// 输出路径
	OutputDir string `json:"output_dir"`

	// 配置快照
	Config CrawlConfig `json:"config"`
}

// ToJSON 序列化为JSON
func (r *CrawlReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *CrawlReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
