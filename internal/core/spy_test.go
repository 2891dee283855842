package core

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/crawlers"
	"github.com/RecoveryAshes/EmailSpy/internal/models"
)

const testOrigin = "https://duckduckgo.com"

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// result 构造一条搜索结果, URL出现两次以便被识别为来源地址
func result(url, text string) string {
	return `{"t":"title","u":` + quote(url) + `,"a":` + quote(text) + `,"c":` + quote(url) + `}`
}

// pageBody 构造结果页正文, next为相对分页地址
func pageBody(next string, results ...string) []byte {
	footer := `{"n":"none"}`
	if next != "" {
		footer = `{"n":` + quote(next) + `}`
	}
	items := append(append([]string{}, results...), footer)
	return []byte("if(DDG.pageLayout)DDG.pageLayout.load('d',[" + strings.Join(items, ",") + "]);")
}

func pointer(rel string) string {
	return testOrigin + rel
}

type fakeResolver struct {
	first string
	err   error
}

func (r *fakeResolver) FirstPage(ctx context.Context, domain string) (string, error) {
	return r.first, r.err
}

type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string][]byte
	errs   map[string]error
	calls  []string
	before func(pointer string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, ptr string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ptr)
	before := f.before
	f.mu.Unlock()

	if before != nil {
		before(ptr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[ptr]; ok {
		return nil, err
	}
	return f.pages[ptr], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testSpyConfig() SpyConfig {
	cfg := DefaultSpyConfig("example.com")
	cfg.CrawlDelay = 0
	cfg.Origin = testOrigin
	return cfg
}

func runSpy(t *testing.T, cfg SpyConfig, resolver FirstPageResolver, fetcher PageFetcher) *Spy {
	t.Helper()

	spy, err := Start(context.Background(), cfg, resolver, fetcher)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	waitDone(t, spy)
	return spy
}

func waitDone(t *testing.T, spy *Spy) {
	t.Helper()
	select {
	case <-spy.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("爬取未在5秒内结束")
	}
}

func sourceURLs(c models.Contact) []string {
	urls := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		urls = append(urls, s.URL)
	}
	return urls
}

func TestSpyMergesAcrossPages(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "john@example.com")),
		pointer("/d.js?s=30"): pageBody("", result("http://b.com", "reach john@example.com")),
	}}

	var calls atomic.Int32
	cfg := testSpyConfig()
	cfg.Callback = func() { calls.Add(1) }

	spy := runSpy(t, cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	if got := spy.State(); got != models.StatusCompleted {
		t.Fatalf("状态 = %s, 期望 completed", got)
	}
	if spy.Err() != nil {
		t.Errorf("完成状态不应有错误: %v", spy.Err())
	}

	contacts := spy.Contacts()
	if len(contacts) != 1 {
		t.Fatalf("联系人数 = %d, 期望 1", len(contacts))
	}
	if contacts[0].Email != "john@example.com" {
		t.Errorf("邮箱 = %q", contacts[0].Email)
	}
	if got, want := sourceURLs(contacts[0]), []string{"http://a.com", "http://b.com"}; !reflect.DeepEqual(got, want) {
		t.Errorf("出处 = %v, 期望 %v", got, want)
	}
	if spy.PagesVisited() != 2 {
		t.Errorf("页数 = %d, 期望 2", spy.PagesVisited())
	}
	// 每页一次, 终止时一次
	if calls.Load() != 3 {
		t.Errorf("回调次数 = %d, 期望 3", calls.Load())
	}
}

func TestSpyStopsWhenMaximumExceeded(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"): pageBody("/d.js?s=30",
			result("http://a.com", "a@example.com"),
			result("http://b.com", "b@example.com"),
		),
		pointer("/d.js?s=30"): pageBody("", result("http://c.com", "c@example.com")),
	}}

	cfg := testSpyConfig()
	cfg.MaximumEmails = 1

	spy := runSpy(t, cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	if got := spy.State(); got != models.StatusCompleted {
		t.Fatalf("状态 = %s, 期望 completed", got)
	}
	if n := len(spy.Contacts()); n != 2 {
		t.Errorf("联系人数 = %d, 期望 2 (超出上限的页面结果保留)", n)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("请求次数 = %d, 期望 1", fetcher.callCount())
	}
}

func TestSpyEqualToMaximumContinues(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "a@example.com")),
		pointer("/d.js?s=30"): pageBody("", result("http://a.com", "a@example.com")),
	}}

	cfg := testSpyConfig()
	cfg.MaximumEmails = 1

	spy := runSpy(t, cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	if fetcher.callCount() != 2 {
		t.Errorf("请求次数 = %d, 期望 2", fetcher.callCount())
	}
	if spy.State() != models.StatusCompleted {
		t.Errorf("状态 = %s", spy.State())
	}
}

func TestSpyOrdering(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"): pageBody("",
			result("http://z.com", "x@example.com"),
			result("http://m.com", "y@example.com"),
			result("http://c.com", "y@example.com"),
			result("http://q.com", "w@example.com"),
		),
	}}

	spy := runSpy(t, testSpyConfig(), &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	contacts := spy.Contacts()
	var emails []string
	for _, c := range contacts {
		emails = append(emails, c.Email)
	}
	// 出处多的在前, 数量相同保持出现顺序
	if want := []string{"y@example.com", "x@example.com", "w@example.com"}; !reflect.DeepEqual(emails, want) {
		t.Fatalf("联系人顺序 = %v, 期望 %v", emails, want)
	}
	if got, want := sourceURLs(contacts[0]), []string{"http://c.com", "http://m.com"}; !reflect.DeepEqual(got, want) {
		t.Errorf("出处顺序 = %v, 期望 %v", got, want)
	}
}

func TestSpyExclusion(t *testing.T) {
	tests := []struct {
		name     string
		domain   string
		excluded []string
		text     string
		want     int
	}{
		{name: "默认排除", domain: "intoli.com", excluded: nil, text: "rylan@intoli.com", want: 0},
		{name: "自定义排除不区分大小写", domain: "example.com", excluded: []string{"Info@Example.com"}, text: "info@example.com", want: 0},
		{name: "空排除列表", domain: "intoli.com", excluded: []string{}, text: "rylan@intoli.com", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &fakeFetcher{pages: map[string][]byte{
				pointer("/d.js?s=0"): pageBody("", result("http://a.com", tt.text)),
			}}
			cfg := testSpyConfig()
			cfg.Domain = tt.domain
			cfg.ExcludedEmails = tt.excluded

			spy := runSpy(t, cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)
			if n := len(spy.Contacts()); n != tt.want {
				t.Errorf("联系人数 = %d, 期望 %d", n, tt.want)
			}
		})
	}
}

func TestSpySkipsUnparseableRecords(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"): pageBody("",
			result("http://a.com", "no address here"),
			result("http://b.com", "ops@example.com"),
			result("http://c.com", "broken @example.com"),
		),
	}}

	spy := runSpy(t, testSpyConfig(), &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	if n := len(spy.Contacts()); n != 1 {
		t.Fatalf("联系人数 = %d, 期望 1", n)
	}
	stats := spy.Stats()
	if stats.RecordsSeen != 3 || stats.RecordsSkipped != 2 {
		t.Errorf("统计 = %+v, 期望 3条记录跳过2条", stats)
	}
}

func TestSpyTerminalStates(t *testing.T) {
	resolveErr := errors.New("bootstrap blocked")

	tests := []struct {
		name      string
		resolver  *fakeResolver
		fetcher   *fakeFetcher
		maxPages  int
		want      models.CrawlStatus
		wantErr   error
		wantPages int
		wantCalls int
	}{
		{
			name:      "首页解析失败",
			resolver:  &fakeResolver{err: resolveErr},
			fetcher:   &fakeFetcher{},
			want:      models.StatusFailed,
			wantErr:   resolveErr,
			wantCalls: 1,
		},
		{
			name:     "页面获取失败",
			resolver: &fakeResolver{first: pointer("/d.js?s=0")},
			fetcher: &fakeFetcher{
				pages: map[string][]byte{pointer("/d.js?s=0"): pageBody("/d.js?s=30", result("http://a.com", "a@example.com"))},
				errs:  map[string]error{pointer("/d.js?s=30"): errors.New("connection reset")},
			},
			want:      models.StatusFailed,
			wantErr:   crawlers.ErrFetch,
			wantPages: 1,
			wantCalls: 2,
		},
		{
			name:     "页面无法解析视为结束",
			resolver: &fakeResolver{first: pointer("/d.js?s=0")},
			fetcher: &fakeFetcher{pages: map[string][]byte{
				pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "a@example.com")),
				pointer("/d.js?s=30"): []byte("<html>captcha</html>"),
			}},
			want:      models.StatusCompleted,
			wantPages: 1,
			wantCalls: 2,
		},
		{
			name:      "首页地址为空",
			resolver:  &fakeResolver{first: ""},
			fetcher:   &fakeFetcher{},
			want:      models.StatusCompleted,
			wantCalls: 1,
		},
		{
			name:     "分页循环",
			resolver: &fakeResolver{first: pointer("/d.js?s=0")},
			fetcher: &fakeFetcher{pages: map[string][]byte{
				pointer("/d.js?s=0"): pageBody("/d.js?s=0", result("http://a.com", "a@example.com")),
			}},
			want:      models.StatusCompleted,
			wantPages: 1,
			wantCalls: 2,
		},
		{
			name:     "最大页数",
			resolver: &fakeResolver{first: pointer("/d.js?s=0")},
			fetcher: &fakeFetcher{pages: map[string][]byte{
				pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "a@example.com")),
				pointer("/d.js?s=30"): pageBody("", result("http://b.com", "b@example.com")),
			}},
			maxPages:  1,
			want:      models.StatusCompleted,
			wantPages: 1,
			wantCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			cfg := testSpyConfig()
			cfg.MaxPages = tt.maxPages
			cfg.Callback = func() { calls.Add(1) }

			spy := runSpy(t, cfg, tt.resolver, tt.fetcher)

			if got := spy.State(); got != tt.want {
				t.Errorf("状态 = %s, 期望 %s", got, tt.want)
			}
			if tt.wantErr != nil {
				if !errors.Is(spy.Err(), tt.wantErr) {
					t.Errorf("错误 = %v, 期望 %v", spy.Err(), tt.wantErr)
				}
			} else if spy.Err() != nil {
				t.Errorf("不应有错误: %v", spy.Err())
			}
			if spy.PagesVisited() != tt.wantPages {
				t.Errorf("页数 = %d, 期望 %d", spy.PagesVisited(), tt.wantPages)
			}
			if int(calls.Load()) != tt.wantCalls {
				t.Errorf("回调次数 = %d, 期望 %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestSpyAbortFromCallback(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "a@example.com")),
		pointer("/d.js?s=30"): pageBody("", result("http://b.com", "b@example.com")),
	}}

	var calls atomic.Int32
	var spy *Spy
	cfg := testSpyConfig()
	cfg.Callback = func() {
		calls.Add(1)
		spy.Abort()
		spy.Abort()
	}

	spy, err := NewSpy(cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}
	if err := spy.Start(context.Background()); err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	waitDone(t, spy)

	if got := spy.State(); got != models.StatusAborted {
		t.Errorf("状态 = %s, 期望 aborted", got)
	}
	if spy.Err() != nil {
		t.Errorf("中止不是错误: %v", spy.Err())
	}
	if calls.Load() != 1 {
		t.Errorf("回调次数 = %d, 期望 1", calls.Load())
	}
	if fetcher.callCount() != 1 {
		t.Errorf("请求次数 = %d, 期望 1", fetcher.callCount())
	}
}

func TestSpyAbortDuringFetch(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		err  error
	}{
		{"返回正常页面", pageBody("/d.js?s=30", result("http://a.com", "a@example.com")), nil},
		{"返回无法解析的页面", []byte("no results block here"), nil},
		{"返回请求错误", nil, errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			entered := make(chan struct{}, 1)

			fetcher := &fakeFetcher{
				pages: map[string][]byte{pointer("/d.js?s=0"): tt.body},
				before: func(string) {
					entered <- struct{}{}
					<-release
				},
			}
			if tt.err != nil {
				fetcher.errs = map[string]error{pointer("/d.js?s=0"): tt.err}
			}

			var calls atomic.Int32
			cfg := testSpyConfig()
			cfg.Callback = func() { calls.Add(1) }

			spy, err := Start(context.Background(), cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)
			if err != nil {
				t.Fatalf("启动失败: %v", err)
			}

			<-entered
			spy.Abort()
			close(release)
			waitDone(t, spy)

			if got := spy.State(); got != models.StatusAborted {
				t.Errorf("状态 = %s, 期望 aborted", got)
			}
			if spy.Err() != nil {
				t.Errorf("中止不应记录错误, 实际 %v", spy.Err())
			}
			if calls.Load() != 0 {
				t.Errorf("中止后不应再回调, 实际 %d 次", calls.Load())
			}
			if fetcher.callCount() != 1 {
				t.Errorf("请求次数 = %d, 期望 1", fetcher.callCount())
			}
		})
	}
}

func TestSpyAbortInterruptsDelay(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "a@example.com")),
		pointer("/d.js?s=30"): pageBody("", result("http://b.com", "b@example.com")),
	}}

	pageDone := make(chan struct{}, 1)
	cfg := testSpyConfig()
	cfg.CrawlDelay = time.Minute
	cfg.Callback = func() {
		select {
		case pageDone <- struct{}{}:
		default:
		}
	}

	spy, err := Start(context.Background(), cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}

	<-pageDone
	start := time.Now()
	spy.Abort()
	waitDone(t, spy)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("中止后等待了 %s", elapsed)
	}
	if got := spy.State(); got != models.StatusAborted {
		t.Errorf("状态 = %s, 期望 aborted", got)
	}
	if n := len(spy.Contacts()); n != 1 {
		t.Errorf("联系人数 = %d, 期望 1", n)
	}
}

func TestSpyParentContextCancel(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"):  pageBody("/d.js?s=30", result("http://a.com", "a@example.com")),
		pointer("/d.js?s=30"): pageBody("", result("http://b.com", "b@example.com")),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	cfg := testSpyConfig()
	cfg.CrawlDelay = time.Minute
	cfg.Callback = func() {
		if calls.Add(1) == 1 {
			cancel()
		}
	}

	spy, err := Start(ctx, cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)
	if err != nil {
		t.Fatalf("启动失败: %v", err)
	}
	waitDone(t, spy)

	if got := spy.State(); got != models.StatusAborted {
		t.Errorf("状态 = %s, 期望 aborted", got)
	}
	// 父上下文取消不会清空回调, 终止时仍会通知
	if calls.Load() != 2 {
		t.Errorf("回调次数 = %d, 期望 2", calls.Load())
	}
}

func TestSpyRecoversPanic(t *testing.T) {
	fetcher := &fakeFetcher{before: func(string) { panic("fetcher exploded") }}

	spy := runSpy(t, testSpyConfig(), &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	if got := spy.State(); got != models.StatusFailed {
		t.Errorf("状态 = %s, 期望 failed", got)
	}
	if !errors.Is(spy.Err(), ErrPanic) {
		t.Errorf("错误 = %v, 期望 ErrPanic", spy.Err())
	}
}

func TestSpyCallbackPanic(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"): pageBody("", result("http://a.com", "a@example.com")),
	}}

	cfg := testSpyConfig()
	cfg.Callback = func() { panic("callback exploded") }

	spy := runSpy(t, cfg, &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	if got := spy.State(); got != models.StatusFailed {
		t.Errorf("状态 = %s, 期望 failed", got)
	}
}

func TestSpyDeterministic(t *testing.T) {
	pages := map[string][]byte{
		pointer("/d.js?s=0"): pageBody("/d.js?s=30",
			result("http://b.com", "x@example.com"),
			result("http://a.com", "y@example.com"),
			result("http://a.com", "x@example.com"),
		),
		pointer("/d.js?s=30"): pageBody("",
			result("http://c.com", "y@example.com"),
			result("http://d.com", "z@example.com"),
		),
	}

	var runs [][]models.Contact
	for i := 0; i < 3; i++ {
		spy := runSpy(t, testSpyConfig(), &fakeResolver{first: pointer("/d.js?s=0")}, &fakeFetcher{pages: pages})
		runs = append(runs, spy.Contacts())
	}
	for i := 1; i < len(runs); i++ {
		if !reflect.DeepEqual(runs[0], runs[i]) {
			t.Fatalf("第%d次结果与第1次不同:\n%v\n%v", i+1, runs[0], runs[i])
		}
	}
}

func TestSpyContactsSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string][]byte{
		pointer("/d.js?s=0"): pageBody("", result("http://a.com", "a@example.com")),
	}}
	spy := runSpy(t, testSpyConfig(), &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)

	snapshot := spy.Contacts()
	snapshot[0].Email = "changed"
	snapshot[0].Sources[0].URL = "changed"

	again := spy.Contacts()
	if again[0].Email != "a@example.com" || again[0].Sources[0].URL != "http://a.com" {
		t.Errorf("修改快照影响了内部状态: %+v", again[0])
	}
}

func TestSpyLifecycle(t *testing.T) {
	t.Run("重复启动", func(t *testing.T) {
		spy, err := NewSpy(testSpyConfig(), &fakeResolver{}, &fakeFetcher{})
		if err != nil {
			t.Fatalf("创建失败: %v", err)
		}
		if spy.State() != models.StatusIdle {
			t.Errorf("初始状态 = %s, 期望 idle", spy.State())
		}
		if err := spy.Start(context.Background()); err != nil {
			t.Fatalf("启动失败: %v", err)
		}
		if err := spy.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("期望 ErrAlreadyStarted, 实际 %v", err)
		}
		waitDone(t, spy)
	})

	t.Run("启动前中止", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		spy, err := NewSpy(testSpyConfig(), &fakeResolver{first: pointer("/d.js?s=0")}, fetcher)
		if err != nil {
			t.Fatalf("创建失败: %v", err)
		}
		spy.Abort()
		if err := spy.Start(context.Background()); err != nil {
			t.Fatalf("启动失败: %v", err)
		}
		if got := spy.Wait(); got != models.StatusAborted {
			t.Errorf("状态 = %s, 期望 aborted", got)
		}
		if fetcher.callCount() != 0 {
			t.Errorf("请求次数 = %d, 期望 0", fetcher.callCount())
		}
	})

	t.Run("结束后中止", func(t *testing.T) {
		spy := runSpy(t, testSpyConfig(), &fakeResolver{}, &fakeFetcher{})
		spy.Abort()
		if spy.State() != models.StatusCompleted {
			t.Errorf("状态 = %s, 期望 completed", spy.State())
		}
	})
}

func TestNewSpyValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*SpyConfig)
		resolver FirstPageResolver
		fetcher  PageFetcher
	}{
		{name: "空域名", mutate: func(c *SpyConfig) { c.Domain = " " }, resolver: &fakeResolver{}, fetcher: &fakeFetcher{}},
		{name: "缺少获取器", mutate: func(c *SpyConfig) {}, resolver: &fakeResolver{}, fetcher: nil},
		{name: "无效源站", mutate: func(c *SpyConfig) { c.Origin = "://bad" }, resolver: &fakeResolver{}, fetcher: &fakeFetcher{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testSpyConfig()
			tt.mutate(&cfg)
			if _, err := NewSpy(cfg, tt.resolver, tt.fetcher); !errors.Is(err, ErrInvalidSpyConfig) {
				t.Errorf("期望 ErrInvalidSpyConfig, 实际 %v", err)
			}
		})
	}
}
