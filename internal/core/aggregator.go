package core

import (
	"sort"
	"strings"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
)

// MergeResult 一页记录合并后的变化
type MergeResult struct {
	NewContacts int
	NewSources  int
	Duplicates  int // 同一邮箱下URL已存在的记录
	Excluded    int
}

// Aggregator 跨页合并联系人
// 非并发安全, 由爬取协程独占
type Aggregator struct {
	excluded map[string]bool
	contacts []models.Contact
	index    map[string]int // email -> contacts下标
}

// NewAggregator 创建聚合器, excluded 为nil时使用默认排除列表
func NewAggregator(excluded []string) *Aggregator {
	if excluded == nil {
		excluded = []string{models.DefaultExcludedEmail}
	}
	return &Aggregator{
		excluded: models.NormalizeEmails(excluded),
		index:    make(map[string]int),
	}
}

// IsExcluded 邮箱是否在排除列表中(不区分大小写)
func (a *Aggregator) IsExcluded(email string) bool {
	return a.excluded[strings.ToLower(email)]
}

// Add 合并单条记录, 不做排序
func (a *Aggregator) Add(record models.ParsedRecord, result *MergeResult) {
	if a.IsExcluded(record.Email) {
		result.Excluded++
		return
	}

	if i, ok := a.index[record.Email]; ok {
		contact := &a.contacts[i]
		if contact.HasSource(record.URL) {
			result.Duplicates++
			return
		}
		contact.Sources = append(contact.Sources, record.Source())
		result.NewSources++
		return
	}

	a.index[record.Email] = len(a.contacts)
	a.contacts = append(a.contacts, models.Contact{
		Email:   record.Email,
		Sources: []models.Source{record.Source()},
	})
	result.NewContacts++
	result.NewSources++
}

// AddPage 按页面顺序合并一页记录, 然后重新排序
func (a *Aggregator) AddPage(records []models.ParsedRecord) MergeResult {
	var result MergeResult
	for _, record := range records {
		a.Add(record, &result)
	}
	a.Sort()
	return result
}

// Sort 出处按URL升序, 联系人按出处数量降序, 均为稳定排序
func (a *Aggregator) Sort() {
	for i := range a.contacts {
		sources := a.contacts[i].Sources
		sort.SliceStable(sources, func(x, y int) bool {
			return sources[x].URL < sources[y].URL
		})
	}

	sort.SliceStable(a.contacts, func(x, y int) bool {
		return len(a.contacts[x].Sources) > len(a.contacts[y].Sources)
	})

	for i, c := range a.contacts {
		a.index[c.Email] = i
	}
}

// Len 联系人数量
func (a *Aggregator) Len() int {
	return len(a.contacts)
}

// SourceCount 所有联系人的出处总数
func (a *Aggregator) SourceCount() int {
	n := 0
	for _, c := range a.contacts {
		n += len(c.Sources)
	}
	return n
}

// Contacts 返回联系人快照
func (a *Aggregator) Contacts() []models.Contact {
	return models.CloneContacts(a.contacts)
}
