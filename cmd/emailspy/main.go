package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/config"
	"github.com/RecoveryAshes/EmailSpy/internal/core"
	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/RecoveryAshes/EmailSpy/internal/output"
	"github.com/RecoveryAshes/EmailSpy/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	logLevel   string
	quiet      bool

	// HTTP头部参数
	headers          []string
	headerConfigFile string
	validateConfig   bool

	// 爬取参数
	domains        []string
	domainFile     string
	crawlDelay     time.Duration
	maxEmails      int
	maxPages       int
	excludedEmails []string
	mode           string
	timeout        time.Duration
	headless       bool

	// 输出参数
	outputDir  string
	outputFile string
	format     string

	// 批量处理参数
	batchDelay      time.Duration
	continueOnError bool
)

// appConfig 在 PersistentPreRunE 中加载
var appConfig *core.Config

var rootCmd = &cobra.Command{
	Use:   "emailspy [domain...]",
	Short: "按邮箱域名搜索公开联系人",
	Long: `EmailSpy - 通过 DuckDuckGo 搜索收集指定域名的公开邮箱地址

对每个域名搜索 "@domain", 逐页翻阅结果, 提取出现的邮箱地址,
合并重复项并按出处数量排序.

示例:
  emailspy example.com
  emailspy -d example.com --max-emails 50 -f csv -o contacts.csv
  emailspy --domain-file domains.txt --batch-delay 5s
  emailspy example.com -H "Accept-Language: de-DE" --mode browser

  # 验证请求头配置
  emailspy --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}
		appConfig = cfg

		logConfig := utils.LogConfig{
			Level:      cfg.Logging.Level,
			LogDir:     cfg.Logging.LogDir,
			MaxSize:    cfg.Logging.Rotation.MaxSize,
			MaxBackups: cfg.Logging.Rotation.MaxBackups,
			MaxAge:     cfg.Logging.Rotation.MaxAge,
			Compress:   cfg.Logging.Rotation.Compress,
			NoConsole:  quiet,
		}
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		return nil
	},
	RunE: run,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("EmailSpy %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func run(cmd *cobra.Command, args []string) error {
	headerManager, err := core.NewHeaderManager(headerConfigFile, headers)
	if err != nil {
		return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}

	if validateConfig {
		return runValidateConfig(headerManager)
	}

	var fileDomains []string
	if domainFile != "" {
		if fileDomains, err = utils.ReadDomainsFromFile(domainFile); err != nil {
			return err
		}
	}
	targets, err := CollectDomains(domains, args, fileDomains)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return cmd.Help()
	}

	crawlConfig, err := buildCrawlConfig(cmd)
	if err != nil {
		return err
	}

	exportFormat, err := ValidateFlags(batchDelay, formatName(format, appConfig.Output.Format, outputFile), outputFile)
	if err != nil {
		return err
	}
	headerManager.SetReferer(crawlConfig.Origin)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl+C 中止当前域名, 已收集的结果仍然导出
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			utils.Warnf("收到中断信号: %v, 正在中止爬取...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	batch := core.NewBatchCrawler(crawlConfig, outputDir, batchDelay, continueOnError, headerManager)
	progress := newProgressView(quiet)
	batch.SetProgress(progress.Update)

	summary, err := batch.CrawlBatch(ctx, targets)
	progress.Close()
	if err != nil {
		return fmt.Errorf("批量爬取失败: %w", err)
	}

	if err := export(summary, exportFormat); err != nil {
		return err
	}

	if summary.FailCount > 0 {
		return fmt.Errorf("%d 个域名爬取失败", summary.FailCount)
	}
	utils.Info("✨ 爬取任务完成!")
	return nil
}

// buildCrawlConfig 配置文件为基础, 只有显式给出的命令行参数才覆盖
func buildCrawlConfig(cmd *cobra.Command) (models.CrawlConfig, error) {
	flags := cmd.Flags()
	overrides := core.CrawlOverrides{
		MaximumEmails:  maxEmails,
		ExcludedEmails: excludedEmails,
		Timeout:        timeout,
		FetchMode:      mode,
	}
	if flags.Changed("delay") {
		overrides.CrawlDelay = &crawlDelay
	}
	if flags.Changed("max-pages") {
		overrides.MaxPages = &maxPages
	}
	if flags.Changed("headless") {
		overrides.Headless = &headless
	}
	appConfig.MergeCLIFlags(overrides)

	crawlConfig := appConfig.GetCrawlConfig()
	if err := crawlConfig.Validate(); err != nil {
		return crawlConfig, fmt.Errorf("无效的爬取配置: %w", err)
	}
	if outputDir == "" {
		outputDir = appConfig.Output.BaseDir
	}
	return crawlConfig, nil
}

func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证HTTP头部配置...")
	if err := headerManager.LoadConfig(); err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	safeHeaders := headerManager.GetSafeHeaders()
	names := make([]string, 0, len(safeHeaders))
	for name := range safeHeaders {
		names = append(names, name)
	}
	sort.Strings(names)

	utils.Info("✅ 配置验证通过!")
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for _, name := range names {
		utils.Infof("  %s: %s", name, safeHeaders[name])
	}
	return nil
}

// export 导出联系人
//   - -o -     所有域名合并输出到标准输出
//   - -o FILE  所有域名合并写入 FILE
//   - 未指定    每个域名写入 <outputDir>/<domain>/contacts.<ext>
func export(summary *core.BatchSummary, format output.Format) error {
	var results []output.Result
	for _, r := range summary.Results {
		if r.Status == models.StatusFailed && len(r.Contacts) == 0 {
			continue
		}
		results = append(results, output.Result{Domain: r.Domain, Status: r.Status, Contacts: r.Contacts})
	}
	if len(results) == 0 {
		return nil
	}

	switch outputFile {
	case stdoutPath:
		content, err := output.NewOutput(results).Render(format)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(os.Stdout, content)
		return err
	case "":
		for _, r := range results {
			path := ExportPath(outputDir, r.Domain, format)
			if err := output.WriteFile(path, format, []output.Result{r}); err != nil {
				return err
			}
			utils.Infof("💾 已导出 %d 个联系人: %s", len(r.Contacts), path)
		}
		return nil
	default:
		if err := output.WriteFile(outputFile, format, results); err != nil {
			return err
		}
		utils.Infof("💾 已导出: %s", outputFile)
		return nil
	}
}

// progressView 每个域名一个不定长进度条, 每处理一页前进一格
type progressView struct {
	disabled bool

	mu     sync.Mutex
	domain string
	bar    *progressbar.ProgressBar
}

func newProgressView(disabled bool) *progressView {
	return &progressView{disabled: disabled}
}

func (p *progressView) Update(domain string, status models.CrawlStatus, stats models.CrawlStats) {
	if p.disabled {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar == nil || p.domain != domain {
		p.finishLocked()
		p.domain = domain
		p.bar = utils.NewProgressBar(-1, domain)
	}

	p.bar.Describe(fmt.Sprintf("%s 📧 %d 联系人", domain, stats.Contacts))
	_ = p.bar.Set(stats.PagesVisited)

	if status.IsTerminal() {
		p.finishLocked()
	}
}

func (p *progressView) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressView) finishLocked() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
	}
}

func formatName(flagValue, configValue, outputPath string) string {
	if flagValue != "" {
		return flagValue
	}
	// -o 带扩展名时以扩展名为准, 不使用配置文件中的格式
	if outputPath != "" && outputPath != stdoutPath {
		if _, ok := output.FormatFromPath(outputPath); ok {
			return ""
		}
	}
	return configValue
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "不在终端输出日志和进度")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().StringVar(&headerConfigFile, "header-config", config.DefaultConfigFile, "HTTP头部配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证HTTP头部配置后退出")

	// 爬取参数
	rootCmd.Flags().StringSliceVarP(&domains, "domain", "d", nil, "目标邮箱域名, 可多次指定")
	rootCmd.Flags().StringVar(&domainFile, "domain-file", "", "域名列表文件, 每行一个")
	rootCmd.Flags().DurationVar(&crawlDelay, "delay", models.DefaultCrawlDelay, "翻页间隔")
	rootCmd.Flags().IntVar(&maxEmails, "max-emails", 0, "联系人数超过该值后停止 (默认取配置文件)")
	rootCmd.Flags().IntVar(&maxPages, "max-pages", 0, "最多翻页数, 0表示不限制")
	rootCmd.Flags().StringSliceVar(&excludedEmails, "exclude", nil, "额外忽略的邮箱地址")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "页面获取方式 (static|browser)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "单页请求超时 (默认取配置文件)")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "浏览器模式下使用无头浏览器")

	// 输出参数
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "报告输出目录 (默认取配置文件)")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "导出文件, '-' 表示标准输出")
	rootCmd.Flags().StringVarP(&format, "format", "f", "", "导出格式 (json|csv|markdown|text|html)")

	// 批量处理参数
	rootCmd.Flags().DurationVar(&batchDelay, "batch-delay", time.Second, "批量处理域名间隔")
	rootCmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "某个域名失败后继续处理")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
