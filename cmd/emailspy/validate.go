package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/output"
)

// stdoutPath -o 取该值时导出到标准输出
const stdoutPath = "-"

// CollectDomains 合并 -d、位置参数和 --domain-file 中的域名
// 统一规范化为小写, 按首次出现顺序去重
func CollectDomains(flagDomains, args, fileDomains []string) ([]string, error) {
	var domains []string
	seen := make(map[string]bool)

	for _, group := range [][]string{flagDomains, args, fileDomains} {
		for _, raw := range group {
			domain := strings.ToLower(models.NormalizeDomain(raw))
			if domain == "" {
				continue
			}
			if err := models.ValidateDomain(domain); err != nil {
				return nil, fmt.Errorf("无效的域名 %q: %w", raw, err)
			}
			if seen[domain] {
				continue
			}
			seen[domain] = true
			domains = append(domains, domain)
		}
	}
	return domains, nil
}

// ValidateFlags 校验 CrawlConfig 覆盖不到的命令行参数
// 返回最终导出格式: 显式 -f > -o 扩展名 > json
func ValidateFlags(batchDelay time.Duration, format, outputFile string) (output.Format, error) {
	if batchDelay < 0 {
		return "", fmt.Errorf("批量间隔不能为负数, 当前值: %s", batchDelay)
	}

	exportTo := outputFile
	if exportTo == stdoutPath {
		exportTo = ""
	}
	return output.ResolveFormat(format, exportTo)
}

// ExportPath 未指定 -o 时每个域名导出到 <outputDir>/<domain>/contacts.<ext>
func ExportPath(outputDir, domain string, format output.Format) string {
	return filepath.Join(outputDir, domain, "contacts."+formatExt(format))
}

func formatExt(format output.Format) string {
	switch format {
	case output.FormatMarkdown:
		return "md"
	case output.FormatText:
		return "txt"
	}
	return string(format)
}
