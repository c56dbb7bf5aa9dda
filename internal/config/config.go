package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/maltedev/cosmetics-harvester/internal/models"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "HARVESTER"

type Config struct {
	Site       SiteConfig     `envconfig:"SITE"`
	Crawler    CrawlerConfig  `envconfig:"CRAWLER"`
	Fetcher    FetcherConfig  `envconfig:"FETCHER"`
	Output     OutputConfig   `envconfig:"OUTPUT"`
	Browser    BrowserConfig  `envconfig:"BROWSER"`
	Database   DatabaseConfig `envconfig:"DB"`
	Redis      RedisConfig    `envconfig:"REDIS"`
	Server     ServerConfig   `envconfig:"SERVER"`
	Logging    LoggingConfig  `envconfig:"LOG"`
	Categories CategoryList   `envconfig:"CATEGORIES"`
}

type SiteConfig struct {
	URL        string `envconfig:"URL" default:"https://goldapple.ru"`
	CatalogURL string `envconfig:"CATALOG_URL" default:"https://goldapple.ru/uhod/uhod-za-licom/"`
	ReviewURL  string `envconfig:"REVIEW_URL" default:"https://goldapple.ru/review/product/"`
	FaceMarker string `envconfig:"FACE_MARKER" default:"лицо"`
}

type CrawlerConfig struct {
	SettleWait        time.Duration `envconfig:"SETTLE_WAIT" default:"5s"`
	LoadMoreTimeout   time.Duration `envconfig:"LOAD_MORE_TIMEOUT" default:"30s"`
	NavigationTimeout time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"30s"`
	MaxCacheValue     int           `envconfig:"MAX_CACHE_VALUE" default:"2400"`
	LoadMoreXPath     string        `envconfig:"LOAD_MORE_XPATH" default:"/html/body/div/div/div/main/div[2]/div[%d]/button[1]"`
	FirstLoadMore     int           `envconfig:"FIRST_LOAD_MORE" default:"2"`
}

type FetcherConfig struct {
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	RequestDelayMin time.Duration `envconfig:"REQUEST_DELAY_MIN" default:"0s"`
	RequestDelayMax time.Duration `envconfig:"REQUEST_DELAY_MAX" default:"0s"`
	UserAgent       string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
}

type OutputConfig struct {
	MaxValue  int    `envconfig:"MAX_VALUE" default:"25000"`
	CSVPath   string `envconfig:"CSV_PATH" default:"gold_apple_data.csv"`
	LinksPath string `envconfig:"LINKS_PATH"`
}

type BrowserConfig struct {
	Headless          bool          `envconfig:"HEADLESS" default:"true"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"30s"`
	ViewportWidth     int           `envconfig:"VIEWPORT_WIDTH" default:"1920"`
	ViewportHeight    int           `envconfig:"VIEWPORT_HEIGHT" default:"1080"`
	AcceptLanguage    string        `envconfig:"ACCEPT_LANGUAGE" default:"ru-RU,ru;q=0.9,en;q=0.8"`
	TimezoneID        string        `envconfig:"TIMEZONE" default:"Europe/Moscow"`
	Locale            string        `envconfig:"LOCALE" default:"ru-RU"`
	NavigationRetries int           `envconfig:"NAVIGATION_RETRIES" default:"0"`
}

// DatabaseConfig enables the Postgres sink when URL is set.
type DatabaseConfig struct {
	URL      string `envconfig:"URL"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"4"`
}

// RedisConfig enables the stream sink when Addr is set.
type RedisConfig struct {
	Addr     string `envconfig:"ADDR"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`
	Stream   string `envconfig:"STREAM" default:"stream:product_records"`
}

// ServerConfig enables the status API when Addr is set.
type ServerConfig struct {
	Addr            string        `envconfig:"ADDR"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

type LoggingConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// CategoryList decodes "path:count,path:count" from the environment.
type CategoryList []models.CategorySpec

func (c *CategoryList) Decode(value string) error {
	var list CategoryList
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		path, count, ok := strings.Cut(item, ":")
		if !ok {
			return fmt.Errorf("category %q: expected path:count", item)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return fmt.Errorf("category %q: invalid count: %w", item, err)
		}
		list = append(list, models.CategorySpec{Path: strings.TrimSpace(path), ExpectedCount: n})
	}
	*c = list
	return nil
}

// DefaultCategories is the face care catalog with approximate item counts.
func DefaultCategories() CategoryList {
	return CategoryList{
		{Path: "ochischenie-i-demakijazh", ExpectedCount: 5828},
		{Path: "tonizirovanie", ExpectedCount: 2642},
		{Path: "osnovnoj-uhod", ExpectedCount: 8121},
		{Path: "special-nyj-uhod", ExpectedCount: 8722},
		{Path: "antivozrastnoj-uhod-za-licom", ExpectedCount: 6971},
		{Path: "kremy", ExpectedCount: 5321},
		{Path: "syvorotki", ExpectedCount: 3991},
		{Path: "maski", ExpectedCount: 3730},
		{Path: "patchi", ExpectedCount: 668},
		{Path: "pedy", ExpectedCount: 167},
		{Path: "skraby-i-pilingi", ExpectedCount: 737},
	}
}

// Load reads an optional .env file and then the HARVESTER_* environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if _, statErr := os.Stat(".env"); statErr == nil {
			slog.Warn(".env file found but could not be loaded", "error", err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Site.URL == "" || c.Site.CatalogURL == "" || c.Site.ReviewURL == "" {
		return fmt.Errorf("site, catalog and review URLs are required")
	}

	if c.Site.FaceMarker == "" {
		return fmt.Errorf("face marker is required")
	}

	if c.Crawler.MaxCacheValue < 1 {
		return fmt.Errorf("HARVESTER_CRAWLER_MAX_CACHE_VALUE must be at least 1")
	}

	if c.Crawler.SettleWait < 0 {
		return fmt.Errorf("HARVESTER_CRAWLER_SETTLE_WAIT cannot be negative")
	}

	if c.Crawler.LoadMoreTimeout <= c.Crawler.SettleWait {
		return fmt.Errorf("HARVESTER_CRAWLER_LOAD_MORE_TIMEOUT must be longer than the settle wait")
	}

	if !strings.Contains(c.Crawler.LoadMoreXPath, "%d") {
		return fmt.Errorf("HARVESTER_CRAWLER_LOAD_MORE_XPATH must contain %%d for the control index")
	}

	if c.Fetcher.RequestTimeout <= 0 {
		return fmt.Errorf("HARVESTER_FETCHER_REQUEST_TIMEOUT must be positive")
	}

	if c.Fetcher.RequestDelayMin > c.Fetcher.RequestDelayMax {
		return fmt.Errorf("HARVESTER_FETCHER_REQUEST_DELAY_MIN cannot be greater than HARVESTER_FETCHER_REQUEST_DELAY_MAX")
	}

	if c.Output.MaxValue < 1 {
		return fmt.Errorf("HARVESTER_OUTPUT_MAX_VALUE must be at least 1")
	}

	if c.Output.CSVPath == "" {
		return fmt.Errorf("HARVESTER_OUTPUT_CSV_PATH is required")
	}

	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}

	for _, cat := range c.Categories {
		if cat.Path == "" {
			return fmt.Errorf("category path is required")
		}
		if cat.ExpectedCount < 1 {
			return fmt.Errorf("category %s: expected count must be at least 1", cat.Path)
		}
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("HARVESTER_LOG_FORMAT must be json or text, got %q", c.Logging.Format)
	}

	return nil
}

// FilterCategories keeps only the named paths, preserving table order.
func (c *Config) FilterCategories(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		wanted[p] = true
	}

	var kept CategoryList
	for _, cat := range c.Categories {
		if wanted[cat.Path] {
			kept = append(kept, cat)
			delete(wanted, cat.Path)
		}
	}

	for p := range wanted {
		return fmt.Errorf("unknown category: %s", p)
	}

	c.Categories = kept
	return nil
}

// LoadMoreLocator returns the XPath of the nth load-more control.
func (c CrawlerConfig) LoadMoreLocator(n int) string {
	return fmt.Sprintf(c.LoadMoreXPath, n)
}
