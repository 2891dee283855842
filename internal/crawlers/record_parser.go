package crawlers

import (
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
)

// localPartPattern 邮箱本地部分: 不带引号的点分片段, 或带引号的任意字符串
const localPartPattern = `(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))`

// RecordParser 从原始结果记录中提取URL、片段和邮箱
// 同一域名的正则只编译一次
type RecordParser struct {
	domain   string
	suffix   string         // "@" + domain
	domainRe *regexp.Regexp // 不区分大小写匹配域名(按字面量)
	emailRe  *regexp.Regexp
}

// NewRecordParser 创建记录解析器
// domain 保持调用方的大小写, 页面中的域名会被统一为该写法
func NewRecordParser(domain string) *RecordParser {
	quoted := regexp.QuoteMeta(domain)
	return &RecordParser{
		domain:   domain,
		suffix:   "@" + domain,
		domainRe: regexp.MustCompile(`(?i)` + quoted),
		emailRe:  regexp.MustCompile(localPartPattern + `@` + quoted),
	}
}

// ParseRecord 解析单条记录的便捷函数
func ParseRecord(record models.RawRecord, domain string) (models.ParsedRecord, error) {
	return NewRecordParser(domain).Parse(record)
}

// Parse 解析单条记录
// 执行流程:
//  1. 在 http(s) 字段中找到第一对完全相同的值作为URL(可能为空)
//  2. 规范化所有字符串字段, 取最后一个包含 @域名 的字段作为片段
//  3. 在片段中匹配第一个邮箱地址
//  4. 将片段中的邮箱重新用<b>包裹
func (p *RecordParser) Parse(record models.RawRecord) (models.ParsedRecord, error) {
	values := record.Strings()

	parsed := models.ParsedRecord{URL: duplicateURL(values)}

	snippet, ok := p.findSnippet(values)
	if !ok {
		return models.ParsedRecord{}, ErrNoSnippetFound
	}
	snippet = strings.Replace(snippet, "<b>"+p.suffix+"</b>", p.suffix, 1)

	email := p.emailRe.FindString(snippet)
	if email == "" {
		return models.ParsedRecord{}, ErrNoEmailFound
	}

	parsed.Email = email
	parsed.Snippet = strings.Replace(snippet, email, "<b>"+email+"</b>", 1)
	return parsed, nil
}

// duplicateURL 返回排序后第一个相邻重复的 http(s) 值
// 搜索结果中真实的落地URL通常会出现在两个字段里
func duplicateURL(values []string) string {
	candidates := make([]string, 0, len(values))
	for _, v := range values {
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			candidates = append(candidates, v)
		}
	}
	sort.Strings(candidates)

	for i := 0; i+1 < len(candidates); i++ {
		if candidates[i] == candidates[i+1] {
			return candidates[i]
		}
	}
	return ""
}

func (p *RecordParser) findSnippet(values []string) (string, bool) {
	snippet, found := "", false
	for _, v := range values {
		v = strings.Replace(v, "@<b>", "<b>@", 1)
		v = p.domainRe.ReplaceAllLiteralString(v, p.domain)
		if strings.Contains(v, p.suffix) {
			snippet, found = v, true
		}
	}
	return snippet, found
}
