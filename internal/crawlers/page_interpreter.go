package crawlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
)

// PaginationPrefix 分页地址的固定路径前缀
const PaginationPrefix = "/d.js?"

// resultBlockRe 匹配页面中嵌入的 [{...}] 结果块(非贪婪、单行)
var resultBlockRe = regexp.MustCompile(`\[\{.*?\}\]`)

// Page 一个结果页的解析结果
type Page struct {
	Records []models.RawRecord
	Next    string // 下一页绝对地址, 为空表示没有更多页面
}

// PageInterpreter 将结果页正文解析为记录和下一页地址
type PageInterpreter struct {
	origin *url.URL
}

// NewPageInterpreter 创建页面解析器, origin 用于拼接相对的分页地址
func NewPageInterpreter(origin string) (*PageInterpreter, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("解析源站失败: %w", err)
	}
	return &PageInterpreter{origin: u}, nil
}

// InterpretPage 使用默认源站解析页面
func InterpretPage(body []byte) (*Page, error) {
	pi, err := NewPageInterpreter(models.DefaultOrigin)
	if err != nil {
		return nil, err
	}
	return pi.Interpret(body)
}

// Interpret 解析页面正文
// 只有最后一个结果块承载搜索结果, 其最后一条记录是分页信息而非结果
func (pi *PageInterpreter) Interpret(body []byte) (*Page, error) {
	blocks := resultBlockRe.FindAll(body, -1)
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: 未找到结果块", ErrPageDecode)
	}

	records, footerIsObject, err := decodeRecords(blocks[len(blocks)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageDecode, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: 结果块为空", ErrPageDecode)
	}

	// 末尾元素不是对象时它本身就是被丢弃的分页信息, 其余对象都是结果
	if !footerIsObject {
		return &Page{Records: records}, nil
	}

	footer := records[len(records)-1]
	page := &Page{Records: records[:len(records)-1]}

	if ref := nextPageRef(footer); ref != "" {
		next, err := pi.resolve(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: 下一页地址无效: %v", ErrPageDecode, err)
		}
		page.Next = next
	}
	return page, nil
}

func (pi *PageInterpreter) resolve(ref string) (string, error) {
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return pi.origin.ResolveReference(rel).String(), nil
}

// nextPageRef 返回分页记录中最后一个以分页前缀开头的字段
func nextPageRef(footer models.RawRecord) string {
	ref := ""
	for _, v := range footer.Strings() {
		if strings.HasPrefix(v, PaginationPrefix) {
			ref = v
		}
	}
	return ref
}

// decodeRecords 按字段顺序解码JSON对象数组, 非对象元素会被跳过
// lastIsObject 表示数组的最后一个元素是否为对象
func decodeRecords(block []byte) (records []models.RawRecord, lastIsObject bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(block))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, false, err
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, false, err
		}
		if tok != json.Delim('{') {
			if err := skipValue(dec, tok); err != nil {
				return nil, false, err
			}
			lastIsObject = false
			continue
		}
		record, err := decodeObject(dec)
		if err != nil {
			return nil, false, err
		}
		records = append(records, record)
		lastIsObject = true
	}

	if err := expectDelim(dec, ']'); err != nil {
		return nil, false, err
	}
	return records, lastIsObject, nil
}

// decodeObject 在读取 '{' 之后解码对象的其余部分
func decodeObject(dec *json.Decoder) (models.RawRecord, error) {
	var record models.RawRecord
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("对象键类型无效: %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		record = setField(record, key, value)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return record, nil
}

// setField 重复的键保留第一次出现的位置, 取最后一次的值
func setField(record models.RawRecord, name string, value any) models.RawRecord {
	for i := range record {
		if record[i].Name == name {
			record[i].Value = value
			return record
		}
	}
	return append(record, models.Field{Name: name, Value: value})
}

// skipValue 跳过已读取首个token的值
func skipValue(dec *json.Decoder, first json.Token) error {
	delim, ok := first.(json.Delim)
	if !ok || delim == ']' || delim == '}' {
		return nil
	}
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch tok {
		case json.Delim('['), json.Delim('{'):
			depth++
		case json.Delim(']'), json.Delim('}'):
			depth--
		}
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != want {
		return fmt.Errorf("期望 %q, 实际 %v", want, tok)
	}
	return nil
}
