// 包 config：提取与影像作业的配置装载；优先级为 默认值 < YAML 文件 < 环境变量 < 命令行参数
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"site-chain/internal/snapshot"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Imagery：影像采集参数
type Imagery struct {
	Source       string  `yaml:"source"` // sentinel | planet
	NumImages    int     `yaml:"num_images"`
	Padding      float64 `yaml:"padding"` // 站点包围盒缩放倍数
	RGB          bool    `yaml:"rgb"`
	NIR          bool    `yaml:"nir"`
	Workers      int     `yaml:"workers"`
	RatePerMin   int     `yaml:"rate_per_min"`
	TimeoutSec   int     `yaml:"timeout_sec"`
	SentinelURL  string  `yaml:"sentinel_url"`
	SentinelID   string  `yaml:"sentinel_instance_id"`
	PlanetURL    string  `yaml:"planet_url"`
	PlanetAPIKey string  `yaml:"planet_api_key"`
}

// Config：全部可配置项
type Config struct {
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Poly     string `yaml:"poly"`
	History  string `yaml:"history"`
	Provider string `yaml:"provider"` // history | osmium | history,osmium

	OsmiumBin string `yaml:"osmium_bin"`
	TempDir   string `yaml:"temp_dir"`
	OutputDir string `yaml:"output_dir"`

	KeepTemp       bool `yaml:"keep_temp"`
	RestrictWindow bool `yaml:"restrict_window"`
	SaveWIP        bool `yaml:"save_wip"`

	TagConfidence               float64 `yaml:"tag_confidence"`
	ConstructionChainConfidence float64 `yaml:"construction_chain_confidence"`
	BBoxPadding                 float64 `yaml:"bbox_padding"`
	ResolveWorkers              int     `yaml:"resolve_workers"`
	CacheSize                   int     `yaml:"cache_size"`

	StoreDriver string `yaml:"store_driver"` // "" | postgres | sqlite
	StoreDSN    string `yaml:"store_dsn"`

	Redis         bool   `yaml:"redis"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisTTLSec   int    `yaml:"redis_ttl_sec"`
	MetricsFile   string `yaml:"metrics_file"`

	Imagery Imagery `yaml:"imagery"`
}

// Default：默认阈值与目录
func Default() Config {
	return Config{
		Provider:                    "history",
		OsmiumBin:                   "osmium",
		TempDir:                     "temp",
		OutputDir:                   "output",
		TagConfidence:               0.5,
		ConstructionChainConfidence: 0.8,
		BBoxPadding:                 0.001,
		ResolveWorkers:              4,
		CacheSize:                   64,
		RedisAddr:                   "127.0.0.1:6379",
		RedisTTLSec:                 7 * 24 * 3600,
		Imagery: Imagery{
			Source:      "sentinel",
			NumImages:   3,
			Padding:     1,
			Workers:     4,
			RatePerMin:  60,
			TimeoutSec:  60,
			SentinelURL: "https://services.sentinel-hub.com/ogc/wcs/",
			PlanetURL:   "https://api.planet.com/data/v1/quick-search",
		},
	}
}

// LoadEnvFiles：加载 .env 与 data/env/.env，文件缺失时忽略
func LoadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
}

// Load：默认值 → YAML（path 为空时跳过）→ 环境变量
func Load(path string) (Config, error) {
	LoadEnvFiles()
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv：覆盖已设置的环境变量；数值解析失败返回错误
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	float := func(key string, dst *float64) {
		if v := getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	str("SITE_START", &c.Start)
	str("SITE_END", &c.End)
	str("SITE_POLY", &c.Poly)
	str("SITE_HISTORY", &c.History)
	str("SITE_PROVIDER", &c.Provider)
	str("OSMIUM_BIN", &c.OsmiumBin)
	str("SITE_TEMP_DIR", &c.TempDir)
	str("SITE_OUTPUT_DIR", &c.OutputDir)
	boolean("SITE_KEEP_TEMP", &c.KeepTemp)
	boolean("SITE_RESTRICT_WINDOW", &c.RestrictWindow)
	boolean("SITE_SAVE_WIP", &c.SaveWIP)
	float("SITE_TAG_CONFIDENCE", &c.TagConfidence)
	float("SITE_CHAIN_CONFIDENCE", &c.ConstructionChainConfidence)
	float("SITE_BBOX_PADDING", &c.BBoxPadding)
	integer("SITE_RESOLVE_WORKERS", &c.ResolveWorkers)
	integer("SITE_CACHE_SIZE", &c.CacheSize)
	str("STORE_DRIVER", &c.StoreDriver)
	str("STORE_DSN", &c.StoreDSN)
	boolean("REDIS_ENABLED", &c.Redis)
	if h, p := getenv("REDIS_HOST"), getenv("REDIS_PORT"); h != "" || p != "" {
		host, port, err := net.SplitHostPort(c.RedisAddr)
		if err != nil {
			host, port = "127.0.0.1", "6379"
		}
		if h != "" {
			host = h
		}
		if p != "" {
			port = p
		}
		c.RedisAddr = net.JoinHostPort(host, port)
	}
	str("REDIS_PASS", &c.RedisPassword)
	integer("REDIS_DB", &c.RedisDB)
	integer("REDIS_TTL_SEC", &c.RedisTTLSec)
	str("METRICS_FILE", &c.MetricsFile)
	str("IMAGERY_SOURCE", &c.Imagery.Source)
	integer("IMAGERY_NUM_IMAGES", &c.Imagery.NumImages)
	float("IMAGERY_PADDING", &c.Imagery.Padding)
	integer("IMAGERY_RATE_PER_MIN", &c.Imagery.RatePerMin)
	str("SENTINEL_INSTANCE_ID", &c.Imagery.SentinelID)
	str("PL_API_KEY", &c.Imagery.PlanetAPIKey)
	return errors.Join(errs...)
}

// Providers：provider 按逗号拆分后的有序列表
func (c Config) Providers() []string {
	var out []string
	for _, p := range strings.Split(c.Provider, ",") {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Window：解析起止日期
func (c Config) Window() (time.Time, time.Time, error) {
	start, err := snapshot.ParseDay(c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: start %q: %w", c.Start, err)
	}
	end, err := snapshot.ParseDay(c.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: end %q: %w", c.End, err)
	}
	return start, end, nil
}

// RedisTTL：秒数转换
func (c Config) RedisTTL() time.Duration { return time.Duration(c.RedisTTLSec) * time.Second }

// 文档注释：提取作业的参数校验
// 约束：窗口本身的合法性（先后、最早日期、最晚日期）由追踪器校验并给出 InvalidWindow；此处只检查格式与文件。
func (c Config) Validate() error {
	var errs []error
	if _, _, err := c.Window(); err != nil {
		errs = append(errs, err)
	}
	if c.TagConfidence <= 0 || c.TagConfidence > 1 {
		errs = append(errs, fmt.Errorf("config: tag_confidence %v not in (0,1]", c.TagConfidence))
	}
	if c.ConstructionChainConfidence <= 0 || c.ConstructionChainConfidence > 1 {
		errs = append(errs, fmt.Errorf("config: construction_chain_confidence %v not in (0,1]", c.ConstructionChainConfidence))
	}
	if c.BBoxPadding < 0 {
		errs = append(errs, fmt.Errorf("config: bbox_padding %v is negative", c.BBoxPadding))
	}
	if c.ResolveWorkers < 1 {
		errs = append(errs, fmt.Errorf("config: resolve_workers must be >= 1"))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("config: redis_db must be >= 0"))
	}
	if err := fileExists("poly", c.Poly); err != nil {
		errs = append(errs, err)
	}
	if err := fileExists("history", c.History); err != nil {
		errs = append(errs, err)
	}
	ps := c.Providers()
	if len(ps) == 0 {
		errs = append(errs, errors.New("config: provider is empty"))
	}
	for _, p := range ps {
		if p != "history" && p != "osmium" {
			errs = append(errs, fmt.Errorf("config: unknown provider %q", p))
		}
	}
	switch c.StoreDriver {
	case "", "postgres":
	case "sqlite":
		if c.StoreDSN == "" {
			errs = append(errs, errors.New("config: sqlite store requires store_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown store_driver %q", c.StoreDriver))
	}
	return errors.Join(errs...)
}

// ValidateImagery：影像采集参数校验
func (c Config) ValidateImagery() error {
	var errs []error
	im := c.Imagery
	switch im.Source {
	case "sentinel":
		if im.SentinelID == "" {
			errs = append(errs, errors.New("config: sentinel source requires SENTINEL_INSTANCE_ID"))
		}
	case "planet":
		if im.PlanetAPIKey == "" {
			errs = append(errs, errors.New("config: planet source requires PL_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown imagery source %q", im.Source))
	}
	if !im.RGB && !im.NIR {
		errs = append(errs, errors.New("config: select at least one of rgb, nir"))
	}
	if im.NumImages != -1 && im.NumImages < 3 {
		errs = append(errs, fmt.Errorf("config: num_images must be -1 or >= 3, got %d", im.NumImages))
	}
	if im.Padding <= 0 {
		errs = append(errs, fmt.Errorf("config: imagery padding must be > 0"))
	}
	if im.Workers < 1 || im.RatePerMin < 1 {
		errs = append(errs, errors.New("config: imagery workers and rate_per_min must be >= 1"))
	}
	return errors.Join(errs...)
}

func fileExists(name, path string) error {
	if path == "" {
		return fmt.Errorf("config: %s is required", name)
	}
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: %s: %w", name, err)
	}
	if st.IsDir() {
		return fmt.Errorf("config: %s %s is a directory", name, path)
	}
	return nil
}
