package crawlers

import "errors"

var (
	// ErrNoSnippetFound 记录中没有包含 @域名 的字段
	ErrNoSnippetFound = errors.New("未找到包含目标域名的片段")
	// ErrNoEmailFound 片段中没有匹配的邮箱地址
	ErrNoEmailFound = errors.New("片段中未找到邮箱地址")
	// ErrPageDecode 页面中没有可解析的结果块,视为没有更多结果
	ErrPageDecode = errors.New("页面结果块解析失败")
	// ErrFetch 页面获取失败
	ErrFetch = errors.New("页面获取失败")
	// ErrFirstPageNotFound 引导页中没有找到第一页地址
	ErrFirstPageNotFound = errors.New("未找到第一页地址")
)
