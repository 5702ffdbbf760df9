package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	TelegramToken       string
	TelegramAPIEndpoint string

	// Fetch
	FetchTimeout   time.Duration
	FetchMaxSize   int64
	FetchUserAgent string

	// Sources
	LostFilmURL     string
	AlexFilmFeedURL string

	// Worker
	ShowConcurrency int

	// Notify
	NotifyWorkers         int
	NotifyQueueSize       int
	NotifyShutdownTimeout time.Duration

	// Metrics
	MetricsPushgatewayURL string

	// Logging
	LogLevel string
}

// DefaultTelegramAPIEndpoint はTelegram Bot APIのエンドポイント書式。
// 1つ目の%sにトークン、2つ目にメソッド名が入る。
const DefaultTelegramAPIEndpoint = "https://api.telegram.org/bot%s/%s"

// fileConfig はCONFIG_FILEで指定するYAMLファイルの構造。
// ここで指定した値はデフォルト値として扱い、環境変数が優先される。
type fileConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Telegram struct {
		Token       string `yaml:"token"`
		APIEndpoint string `yaml:"api_endpoint"`
	} `yaml:"telegram"`
	Fetch struct {
		Timeout   string `yaml:"timeout"`
		MaxSize   string `yaml:"max_size"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"fetch"`
	Sources struct {
		LostFilmURL     string `yaml:"lostfilm_url"`
		AlexFilmFeedURL string `yaml:"alexfilm_feed_url"`
	} `yaml:"sources"`
	ShowConcurrency string `yaml:"show_concurrency"`
	Notify          struct {
		Workers         string `yaml:"workers"`
		QueueSize       string `yaml:"queue_size"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	} `yaml:"notify"`
	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
	} `yaml:"metrics"`
	LogLevel string `yaml:"log_level"`
}

// values は環境変数 > 設定ファイルの優先順位で値を解決する。
type values map[string]string

func (v values) get(key string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return v[key]
}

// Load は環境変数（およびCONFIG_FILEで指定されたYAMLファイル）からConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	v := values{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		fileValues, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		v = fileValues
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = v.get("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.TelegramToken = v.get("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		missing = append(missing, "TELEGRAM_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required configuration values are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TelegramAPIEndpoint = getString(v, "TELEGRAM_API_ENDPOINT", DefaultTelegramAPIEndpoint)
	cfg.FetchTimeout = getDuration(v, "FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getInt64(v, "FETCH_MAX_SIZE", 5242880)
	cfg.FetchUserAgent = getString(v, "FETCH_USER_AGENT", "ShowNotifier/1.0")
	cfg.LostFilmURL = getString(v, "LOSTFILM_URL", "http://www.lostfilm.tv/browse.php")
	cfg.AlexFilmFeedURL = getString(v, "ALEXFILM_FEED_URL", "http://alexfilm.cc/rss.php")
	cfg.ShowConcurrency = getInt(v, "SHOW_CONCURRENCY", 4)
	cfg.NotifyWorkers = getInt(v, "NOTIFY_WORKERS", 4)
	cfg.NotifyQueueSize = getInt(v, "NOTIFY_QUEUE_SIZE", 100)
	cfg.NotifyShutdownTimeout = getDuration(v, "NOTIFY_SHUTDOWN_TIMEOUT", 5*time.Minute)
	cfg.MetricsPushgatewayURL = getString(v, "METRICS_PUSHGATEWAY_URL", "")
	cfg.LogLevel = getString(v, "LOG_LEVEL", "info")

	return cfg, nil
}

// loadFile はYAML設定ファイルを読み込み、環境変数名をキーとする値に変換する。
func loadFile(path string) (values, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return values{
		"DATABASE_URL":            fc.Database.URL,
		"TELEGRAM_TOKEN":          fc.Telegram.Token,
		"TELEGRAM_API_ENDPOINT":   fc.Telegram.APIEndpoint,
		"FETCH_TIMEOUT":           fc.Fetch.Timeout,
		"FETCH_MAX_SIZE":          fc.Fetch.MaxSize,
		"FETCH_USER_AGENT":        fc.Fetch.UserAgent,
		"LOSTFILM_URL":            fc.Sources.LostFilmURL,
		"ALEXFILM_FEED_URL":       fc.Sources.AlexFilmFeedURL,
		"SHOW_CONCURRENCY":        fc.ShowConcurrency,
		"NOTIFY_WORKERS":          fc.Notify.Workers,
		"NOTIFY_QUEUE_SIZE":       fc.Notify.QueueSize,
		"NOTIFY_SHUTDOWN_TIMEOUT": fc.Notify.ShutdownTimeout,
		"METRICS_PUSHGATEWAY_URL": fc.Metrics.PushgatewayURL,
		"LOG_LEVEL":               fc.LogLevel,
	}, nil
}

func getString(v values, key, defaultVal string) string {
	if s := v.get(key); s != "" {
		return s
	}
	return defaultVal
}

func getInt(v values, key string, defaultVal int) int {
	s := v.get(key)
	if s == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return i
}

func getInt64(v values, key string, defaultVal int64) int64 {
	s := v.get(key)
	if s == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getDuration(v values, key string, defaultVal time.Duration) time.Duration {
	s := v.get(key)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
