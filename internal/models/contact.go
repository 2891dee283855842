package models

import "strings"

// DefaultExcludedEmail 默认排除的邮箱地址(爬虫维护者自己的地址)
const DefaultExcludedEmail = "rylan@intoli.com"

// Source 联系人的一条出处
type Source struct {
	URL     string `json:"url"`     // 结果页面URL,无法确定时为空
	Snippet string `json:"snippet"` // 包含邮箱的HTML片段,邮箱以<b>包裹
}

// Contact 聚合后的联系人
type Contact struct {
	Email   string   `json:"email"`   // 邮箱地址(唯一标识)
	Sources []Source `json:"sources"` // 按URL升序排列,同一URL最多出现一次
}

// HasSource 检查是否已存在相同URL的出处
func (c *Contact) HasSource(url string) bool {
	for _, s := range c.Sources {
		if s.URL == url {
			return true
		}
	}
	return false
}

// Field 原始结果记录中的一个字段
type Field struct {
	Name  string
	Value any
}

// RawRecord 搜索结果页中的一条原始记录
// 字段顺序与页面中出现的顺序一致
type RawRecord []Field

// Get 按名称获取字段值
func (r RawRecord) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Strings 按顺序返回所有字符串类型的字段值
func (r RawRecord) Strings() []string {
	values := make([]string, 0, len(r))
	for _, f := range r {
		if s, ok := f.Value.(string); ok {
			values = append(values, s)
		}
	}
	return values
}

// ParsedRecord 单条记录的解析结果
type ParsedRecord struct {
	URL     string
	Snippet string
	Email   string
}

// Source 转换为出处
func (p ParsedRecord) Source() Source {
	return Source{URL: p.URL, Snippet: p.Snippet}
}

// CloneContacts 深拷贝联系人列表,供回调和报告读取
func CloneContacts(contacts []Contact) []Contact {
	cloned := make([]Contact, len(contacts))
	for i, c := range contacts {
		cloned[i] = Contact{
			Email:   c.Email,
			Sources: append([]Source(nil), c.Sources...),
		}
	}
	return cloned
}

// NormalizeEmails 将邮箱列表转为小写集合
func NormalizeEmails(emails []string) map[string]bool {
	set := make(map[string]bool, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			set[e] = true
		}
	}
	return set
}
