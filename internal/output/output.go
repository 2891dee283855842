package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RecoveryAshes/EmailSpy/internal/models"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Format 导出格式
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatHTML     Format = "html"
)

// ParseFormat 解析格式名称, 支持 md/txt/htm 简写
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("不支持的导出格式: %s (有效值: json, csv, markdown, text, html)", name)
}

// FormatFromPath 根据文件扩展名推断格式
func FormatFromPath(path string) (Format, bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", false
	}
	f, err := ParseFormat(ext)
	if err != nil {
		return "", false
	}
	return f, true
}

// ResolveFormat 确定导出格式: 显式指定 > 文件扩展名 > json
func ResolveFormat(name, path string) (Format, error) {
	if name != "" {
		return ParseFormat(name)
	}
	if f, ok := FormatFromPath(path); ok {
		return f, nil
	}
	return FormatJSON, nil
}

// Result 一个域名的导出内容
type Result struct {
	Domain   string             `json:"domain"`
	Status   models.CrawlStatus `json:"status"`
	Contacts []models.Contact   `json:"contacts"`
}

// Output 输出格式化器
type Output struct {
	results []Result
}

// NewOutput 创建新的 Output 实例
func NewOutput(results []Result) *Output {
	return &Output{results: results}
}

// Render 按格式输出
func (o *Output) Render(format Format) (string, error) {
	switch format {
	case FormatJSON:
		return o.ToJSON()
	case FormatCSV:
		return o.ToCSV()
	case FormatMarkdown:
		return o.ToMarkdown()
	case FormatText:
		return o.ToText()
	case FormatHTML:
		return o.ToHTML()
	}
	return "", fmt.Errorf("不支持的导出格式: %s", format)
}

// ToJSON 输出JSON
func (o *Output) ToJSON() (string, error) {
	results := make([]Result, len(o.results))
	for i, r := range o.results {
		results[i] = r
		if results[i].Contacts == nil {
			results[i].Contacts = []models.Contact{}
		}
	}

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}
	return string(data) + "\n", nil
}

// ToCSV 输出CSV, 每个出处一行
func (o *Output) ToCSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"domain", "email", "source_count", "url", "snippet"}); err != nil {
		return "", err
	}
	for _, r := range o.results {
		for _, c := range r.Contacts {
			count := strconv.Itoa(len(c.Sources))
			for _, s := range c.Sources {
				record := []string{r.Domain, c.Email, count, s.URL, SnippetText(s.Snippet)}
				if err := w.Write(record); err != nil {
					return "", err
				}
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("写入CSV失败: %w", err)
	}
	return buf.String(), nil
}

// ToText 输出纯文本
func (o *Output) ToText() (string, error) {
	var b strings.Builder
	for i, r := range o.results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s (%s, %d个联系人)\n", r.Domain, r.Status, len(r.Contacts))
		for _, c := range r.Contacts {
			fmt.Fprintf(&b, "  %s [%d]\n", c.Email, len(c.Sources))
			for _, s := range c.Sources {
				url := s.URL
				if url == "" {
					url = "-"
				}
				fmt.Fprintf(&b, "    %s\n", url)
				if text := SnippetText(s.Snippet); text != "" {
					fmt.Fprintf(&b, "      %s\n", text)
				}
			}
		}
	}
	return b.String(), nil
}

// ToHTML 输出HTML文档
// 片段来自第三方页面, 只保留文本并重新高亮邮箱
func (o *Output) ToHTML() (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, o.viewModel()); err != nil {
		return "", fmt.Errorf("渲染HTML失败: %w", err)
	}
	return buf.String(), nil
}

// ToMarkdown 输出Markdown, 由HTML转换而来
func (o *Output) ToMarkdown() (string, error) {
	htmlContent, err := o.ToHTML()
	if err != nil {
		return "", err
	}

	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(htmlContent)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}
	return strings.TrimSpace(markdown) + "\n", nil
}

// WriteFile 写入文件, 自动创建目录
func WriteFile(path string, format Format, results []Result) error {
	content, err := NewOutput(results).Render(format)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("写入导出文件失败: %w", err)
	}
	return nil
}

// SnippetText 去除片段中的HTML标签和脚本
func SnippetText(snippet string) string {
	if snippet == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snippet))
	if err != nil {
		return snippet
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// highlight 转义片段文本并高亮第一处邮箱
func highlight(snippet, email string) template.HTML {
	escaped := html.EscapeString(SnippetText(snippet))
	target := html.EscapeString(email)
	return template.HTML(strings.Replace(escaped, target, "<b>"+target+"</b>", 1))
}

type sourceView struct {
	URL     string
	Snippet template.HTML
}

type contactView struct {
	Email   string
	Sources []sourceView
}

type resultView struct {
	Domain   string
	Status   models.CrawlStatus
	Contacts []contactView
}

func (o *Output) viewModel() []resultView {
	views := make([]resultView, 0, len(o.results))
	for _, r := range o.results {
		rv := resultView{Domain: r.Domain, Status: r.Status}
		for _, c := range r.Contacts {
			cv := contactView{Email: c.Email}
			for _, s := range c.Sources {
				cv.Sources = append(cv.Sources, sourceView{URL: s.URL, Snippet: highlight(s.Snippet, c.Email)})
			}
			rv.Contacts = append(rv.Contacts, cv)
		}
		views = append(views, rv)
	}
	return views
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>EmailSpy</title></head>
<body>
{{- range .}}
<h2>{{.Domain}}</h2>
<p>{{.Status}}, {{len .Contacts}} contacts</p>
{{- range .Contacts}}
<h3>{{.Email}}</h3>
<ul>
{{- range .Sources}}
<li>{{if .URL}}<a href="{{.URL}}">{{.URL}}</a>{{else}}-{{end}}<p>{{.Snippet}}</p></li>
{{- end}}
</ul>
{{- end}}
{{- end}}
</body>
</html>
`))
