package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/EmailSpy/internal/models"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 例如 EMAILSPY_CRAWL_MAX_PAGES
const EnvPrefix = "EMAILSPY"

// Config 应用程序配置
type Config struct {
	Crawl   models.CrawlConfig `mapstructure:"crawl"`
	Logging LoggingConfig      `mapstructure:"logging"`
	Output  OutputConfig       `mapstructure:"output"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
	Format  string `mapstructure:"format"` // 导出格式: json|csv|markdown|text|html
}

// LoadConfig 加载配置文件
// 优先级: 默认值 < 配置文件 < 环境变量(.env 文件中的变量同样生效)
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("加载.env文件失败: %w", err)
	}

	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		// 使用指定的配置文件
		v.SetConfigFile(configPath)
	} else {
		// 搜索默认位置
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 添加配置搜索路径
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		// 用户主目录
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".emailspy"))
		}
	}

	// 环境变量
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 如果配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	defaults := models.DefaultCrawlConfig()

	// 爬取配置默认值
	v.SetDefault("crawl.crawl_delay", defaults.CrawlDelay)
	v.SetDefault("crawl.maximum_emails", defaults.MaximumEmails)
	v.SetDefault("crawl.max_pages", defaults.MaxPages)
	v.SetDefault("crawl.excluded_emails", defaults.ExcludedEmails)
	v.SetDefault("crawl.timeout", defaults.Timeout)
	v.SetDefault("crawl.fetch_mode", string(defaults.FetchMode))
	v.SetDefault("crawl.headless", defaults.Headless)
	v.SetDefault("crawl.origin", defaults.Origin)

	// 日志配置默认值
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	// 输出配置默认值
	v.SetDefault("output.base_dir", "output")
	v.SetDefault("output.format", "json")
}

// GetCrawlConfig 从配置中提取爬取配置
func (c *Config) GetCrawlConfig() models.CrawlConfig {
	return c.Crawl
}

// CrawlOverrides 命令行覆盖项, 零值表示不覆盖
type CrawlOverrides struct {
	CrawlDelay     *time.Duration
	MaximumEmails  int
	MaxPages       *int
	ExcludedEmails []string
	Timeout        time.Duration
	FetchMode      string
	Headless       *bool
}

// MergeCLIFlags 合并命令行参数到配置
func (c *Config) MergeCLIFlags(o CrawlOverrides) {
	// 命令行参数优先于配置文件
	if o.CrawlDelay != nil {
		c.Crawl.CrawlDelay = *o.CrawlDelay
	}
	if o.MaximumEmails > 0 {
		c.Crawl.MaximumEmails = o.MaximumEmails
	}
	if o.MaxPages != nil {
		c.Crawl.MaxPages = *o.MaxPages
	}
	if len(o.ExcludedEmails) > 0 {
		c.Crawl.ExcludedEmails = append(c.Crawl.ExcludedEmails, o.ExcludedEmails...)
	}
	if o.Timeout > 0 {
		c.Crawl.Timeout = o.Timeout
	}
	if o.FetchMode != "" {
		c.Crawl.FetchMode = models.FetchMode(o.FetchMode)
	}
	if o.Headless != nil {
		c.Crawl.Headless = *o.Headless
	}
}
