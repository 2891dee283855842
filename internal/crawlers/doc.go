// Package crawlers 提供搜索结果页的获取与解析功能
//
// # 概述
//
// crawlers包负责爬取流程中与页面打交道的部分: 获取页面正文、从正文中取出结果记录、
// 从单条记录中提取邮箱。分页状态机和结果聚合位于 core 包。
//
// # 核心组件
//
// ## DuckDuckGoResolver
//
// 请求 "@域名" 的搜索引导页, 从页面脚本中找到第一页结果脚本(/d.js?...)的地址。
//
//	resolver, err := NewDuckDuckGoResolver(fetcher, "https://duckduckgo.com")
//	first, err := resolver.FirstPage(ctx, "example.com")
//
// ## StaticFetcher / BrowserFetcher
//
// 两种页面获取方式, 由配置项 crawl.fetch_mode 选择:
//   - static: 基于Colly的同步请求, 支持 gzip/deflate/br 解压
//   - browser: 基于go-rod, 首次请求时启动浏览器, 之后复用同一个标签页
//
// 所有获取错误都包装为 ErrFetch。
//
// ## PageInterpreter
//
// 在正文中查找最后一个 [{...}] 结果块, 按字段顺序解码每条记录。
// 最后一条记录是分页信息, 其中以 /d.js? 开头的字段即下一页地址。
// 找不到或无法解码结果块时返回 ErrPageDecode, 调用方应视为没有更多结果。
//
//	page, err := InterpretPage(body)
//	for _, record := range page.Records { ... }
//
// ## RecordParser
//
// 从一条记录中提取来源地址、片段和邮箱:
//   - 来源地址: 排序后第一个重复出现的 http(s) 字段值, 没有则为空
//   - 片段: 最后一个包含 @域名 的字段, 域名大小写统一为调用方的写法
//   - 邮箱: 片段中第一个 xxx@域名 形式的地址, 并在片段中以 <b></b> 高亮
//
// 缺少片段或邮箱时分别返回 ErrNoSnippetFound 和 ErrNoEmailFound, 调用方跳过该记录即可。
//
//	parsed, err := ParseRecord(record, "example.com")
//
// # 并发安全
//
// RecordParser 和 PageInterpreter 无可变状态; 两种 Fetcher 内部加锁, 请求串行执行。
package crawlers
