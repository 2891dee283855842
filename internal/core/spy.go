package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/crawlers"
	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
)

var (
	// ErrAlreadyStarted 同一个Spy只能启动一次
	ErrAlreadyStarted = errors.New("爬取已经启动")
	// ErrPanic 协作组件发生panic
	ErrPanic = errors.New("爬取过程中发生panic")
	// ErrInvalidSpyConfig 爬取配置无效
	ErrInvalidSpyConfig = errors.New("爬取配置无效")
)

// FirstPageResolver 解析第一页结果的地址
type FirstPageResolver interface {
	FirstPage(ctx context.Context, domain string) (string, error)
}

// PageFetcher 获取一个结果页的正文
type PageFetcher interface {
	Fetch(ctx context.Context, pointer string) ([]byte, error)
}

// SpyConfig 单次爬取配置
type SpyConfig struct {
	Domain string

	// Callback 每处理完一页以及进入终止状态时调用
	// 在爬取协程中同步执行, 可以在回调中调用 Abort
	Callback func()

	CrawlDelay     time.Duration
	MaximumEmails  int
	MaxPages       int      // 0表示不限制
	ExcludedEmails []string // nil表示使用默认排除列表

	// Origin 用于拼接分页地址, 为空时使用默认源站
	Origin string
}

// DefaultSpyConfig 返回默认配置
func DefaultSpyConfig(domain string) SpyConfig {
	return SpyConfig{
		Domain:         domain,
		CrawlDelay:     models.DefaultCrawlDelay,
		MaximumEmails:  models.DefaultMaximumEmails,
		ExcludedEmails: []string{models.DefaultExcludedEmail},
		Origin:         models.DefaultOrigin,
	}
}

// Spy 单个域名的爬取控制器
//
// 状态: idle -> running -> completed | aborted | failed
// 爬取在单个协程中顺序执行; Abort、State、Contacts 等方法可在任意协程调用
type Spy struct {
	config      SpyConfig
	resolver    FirstPageResolver
	fetcher     PageFetcher
	interpreter *crawlers.PageInterpreter
	parser      *crawlers.RecordParser
	aggregator  *Aggregator
	pacer       *pacer

	mu       sync.Mutex
	status   models.CrawlStatus
	contacts []models.Contact
	stats    models.CrawlStats
	err      error
	started  time.Time

	// cbMu 在检查中止标志和执行回调期间持有
	cbMu     sync.Mutex
	callback func()

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSpy 创建爬取控制器
func NewSpy(config SpyConfig, resolver FirstPageResolver, fetcher PageFetcher) (*Spy, error) {
	config.Domain = models.NormalizeDomain(config.Domain)
	if config.Domain == "" {
		return nil, fmt.Errorf("%w: 域名不能为空", ErrInvalidSpyConfig)
	}
	if resolver == nil || fetcher == nil {
		return nil, fmt.Errorf("%w: 必须提供首页解析器和页面获取器", ErrInvalidSpyConfig)
	}
	if config.MaximumEmails <= 0 {
		config.MaximumEmails = models.DefaultMaximumEmails
	}
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	if config.CrawlDelay < 0 {
		config.CrawlDelay = 0
	}
	if config.Origin == "" {
		config.Origin = models.DefaultOrigin
	}

	interpreter, err := crawlers.NewPageInterpreter(config.Origin)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpyConfig, err)
	}

	return &Spy{
		config:      config,
		resolver:    resolver,
		fetcher:     fetcher,
		interpreter: interpreter,
		parser:      crawlers.NewRecordParser(config.Domain),
		aggregator:  NewAggregator(config.ExcludedEmails),
		pacer:       newPacer(config.CrawlDelay),
		status:      models.StatusIdle,
		callback:    config.Callback,
		done:        make(chan struct{}),
	}, nil
}

// Start 创建并启动爬取
func Start(ctx context.Context, config SpyConfig, resolver FirstPageResolver, fetcher PageFetcher) (*Spy, error) {
	spy, err := NewSpy(config, resolver, fetcher)
	if err != nil {
		return nil, err
	}
	if err := spy.Start(ctx); err != nil {
		return nil, err
	}
	return spy, nil
}

// Start 进入running状态并在新协程中开始爬取
// ctx 取消等同于 Abort; 正在进行的页面请求使用 ctx 本身, 不受 Abort 影响
func (s *Spy) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status != models.StatusIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	abortCtx, cancel := context.WithCancel(ctx)
	s.status = models.StatusRunning
	s.started = time.Now()
	s.cancel = cancel
	s.mu.Unlock()

	// Abort 可能在 Start 之前被调用
	if s.cancelled.Load() {
		cancel()
	}

	utils.Infof("开始爬取域名: %s", s.config.Domain)
	go func() {
		defer cancel()
		s.run(ctx, abortCtx)
	}()
	return nil
}

// Abort 停止爬取, 可重复调用
// 返回后不会再开始新的回调; 正在执行的页面请求不会被打断, 其结果在下一个检查点丢弃
func (s *Spy) Abort() {
	if s.cancelled.Swap(true) {
		return
	}

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	// 回调执行中(包括在回调内调用Abort)时由 notify 检查中止标志
	if s.cbMu.TryLock() {
		s.callback = nil
		s.cbMu.Unlock()
	}
	utils.Debugf("已请求中止爬取: %s", s.config.Domain)
}

// State 当前状态
func (s *Spy) State() models.CrawlStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Contacts 联系人快照
func (s *Spy) Contacts() []models.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneContacts(s.contacts)
}

// PagesVisited 已处理的页数
func (s *Spy) PagesVisited() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.PagesVisited
}

// Stats 统计信息
func (s *Spy) Stats() models.CrawlStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	if s.status == models.StatusRunning {
		stats.Duration = time.Since(s.started).Seconds()
	}
	return stats
}

// Err 终止错误, completed 和 aborted 时为nil
func (s *Spy) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done 爬取结束时关闭
func (s *Spy) Done() <-chan struct{} {
	return s.done
}

// Wait 阻塞直到爬取结束, 返回终止状态
func (s *Spy) Wait() models.CrawlStatus {
	<-s.done
	return s.State()
}

// Domain 目标域名
func (s *Spy) Domain() string {
	return s.config.Domain
}

func (s *Spy) aborted(ctx context.Context) bool {
	return s.cancelled.Load() || ctx.Err() != nil
}

func (s *Spy) run(ctx, abortCtx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			utils.Errorf("爬取 %s 时发生panic: %v", s.config.Domain, r)
			defer func() {
				if r := recover(); r != nil {
					utils.Errorf("终止回调发生panic: %v", r)
				}
			}()
			s.finish(models.StatusFailed, fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	pointer, err := s.resolver.FirstPage(ctx, s.config.Domain)
	if err != nil {
		if s.aborted(ctx) {
			s.finish(models.StatusAborted, nil)
			return
		}
		utils.Errorf("获取第一页地址失败: %v", err)
		s.finish(models.StatusFailed, err)
		return
	}

	visited := make(map[string]bool)
	for {
		if s.aborted(ctx) {
			s.finish(models.StatusAborted, nil)
			return
		}

		if pointer == "" {
			utils.Infof("没有更多页面")
			s.finish(models.StatusCompleted, nil)
			return
		}
		if visited[pointer] {
			utils.Warnf("分页地址重复, 停止爬取: %s", pointer)
			s.finish(models.StatusCompleted, nil)
			return
		}
		visited[pointer] = true

		page, err := s.fetchPage(ctx, pointer)
		if err != nil {
			// 请求期间被中止时, 无论返回什么都以中止结束
			switch {
			case s.aborted(ctx):
				s.finish(models.StatusAborted, nil)
			case errors.Is(err, crawlers.ErrPageDecode):
				utils.Infof("页面没有可解析的结果, 视为没有更多结果: %v", err)
				s.finish(models.StatusCompleted, nil)
			default:
				utils.Errorf("页面获取失败: %v", err)
				s.finish(models.StatusFailed, err)
			}
			return
		}

		s.processPage(page)
		s.notify()

		if n := s.aggregator.Len(); n > s.config.MaximumEmails {
			utils.Infof("联系人数量 %d 超过上限 %d, 停止爬取", n, s.config.MaximumEmails)
			s.finish(models.StatusCompleted, nil)
			return
		}
		if s.config.MaxPages > 0 && s.PagesVisited() >= s.config.MaxPages {
			utils.Infof("已达到最大页数 %d, 停止爬取", s.config.MaxPages)
			s.finish(models.StatusCompleted, nil)
			return
		}

		if err := s.pacer.Wait(abortCtx); err != nil {
			utils.Debugf("等待被中断: %v", err)
		}

		if s.aborted(ctx) {
			s.finish(models.StatusAborted, nil)
			return
		}

		pointer = page.Next
	}
}

// fetchPage 获取并解析一页, 获取错误统一包装为 ErrFetch
func (s *Spy) fetchPage(ctx context.Context, pointer string) (*crawlers.Page, error) {
	utils.Debugf("获取页面: %s", pointer)

	body, err := s.fetcher.Fetch(ctx, pointer)
	if err != nil {
		if !errors.Is(err, crawlers.ErrFetch) {
			err = fmt.Errorf("%w [%s]: %v", crawlers.ErrFetch, pointer, err)
		}
		return nil, err
	}
	return s.interpreter.Interpret(body)
}

// processPage 解析页面中的记录并合并到联系人
func (s *Spy) processPage(page *crawlers.Page) {
	parsed := make([]models.ParsedRecord, 0, len(page.Records))
	skipped := 0
	for _, record := range page.Records {
		rec, err := s.parser.Parse(record)
		if err != nil {
			utils.Debugf("跳过记录: %v", err)
			skipped++
			continue
		}
		parsed = append(parsed, rec)
	}

	result := s.aggregator.AddPage(parsed)
	contacts := s.aggregator.Contacts()

	s.mu.Lock()
	s.contacts = contacts
	s.stats.PagesVisited++
	s.stats.RecordsSeen += len(page.Records)
	s.stats.RecordsSkipped += skipped + result.Excluded
	s.stats.Contacts = len(contacts)
	s.stats.Sources = s.aggregator.SourceCount()
	pages := s.stats.PagesVisited
	s.mu.Unlock()

	utils.Infof("第%d页: %d条记录, 新增%d个联系人, %d个出处, 共%d个联系人",
		pages, len(page.Records), result.NewContacts, result.NewSources, len(contacts))
	if result.Excluded > 0 {
		utils.Debugf("第%d页排除了%d条记录", pages, result.Excluded)
	}
}

// finish 进入终止状态并触发最后一次回调
func (s *Spy) finish(status models.CrawlStatus, err error) {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.err = err
	s.stats.Duration = time.Since(s.started).Seconds()
	stats := s.stats
	s.mu.Unlock()

	logger := utils.DomainLogger(s.config.Domain)
	event := logger.Info()
	if status == models.StatusFailed {
		event = logger.Error().Err(err)
	}
	event.Str("status", strings.ToUpper(string(status))).
		Int("pages", stats.PagesVisited).
		Int("contacts", stats.Contacts).
		Int("sources", stats.Sources).
		Float64("duration", stats.Duration).
		Msg("爬取结束")

	s.notify()
}

// notify 调用回调; Abort 之后不再调用
func (s *Spy) notify() {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()

	if s.cancelled.Load() || s.callback == nil {
		return
	}
	s.callback()
}
