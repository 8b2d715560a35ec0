package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	LogLevel   string

	// Fetch
	FetchInterval                time.Duration
	FetchTimeout                 time.Duration
	FetchMaxSize                 int64
	FetchOnline                  bool
	FetchProxyURL                string
	FetchImposeUserAgent         bool
	FetchFollowProtocolRedirects bool
	FetchSSRFGuard               bool

	// Parse
	KeepDays         int
	EfficientParsing bool
	SanitizeEntries  bool

	// Images
	FetchImages    bool
	ImageCacheDir  string
	ImageCacheURL  string
	ImageFetchRate float64

	// Render
	DisablePictures bool
	StripWebBugs    bool

	// Seed
	FeedsDir string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.FetchInterval = getEnvDuration("FETCH_INTERVAL", time.Hour)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 10485760)
	cfg.FetchOnline = getEnvBool("FETCH_ONLINE", true)
	cfg.FetchProxyURL = getEnvString("FETCH_PROXY_URL", "")
	cfg.FetchImposeUserAgent = getEnvBool("FETCH_IMPOSE_USER_AGENT", true)
	cfg.FetchFollowProtocolRedirects = getEnvBool("FETCH_FOLLOW_PROTOCOL_REDIRECTS", false)
	cfg.FetchSSRFGuard = getEnvBool("FETCH_SSRF_GUARD", true)
	cfg.KeepDays = getEnvInt("KEEP_DAYS", 4)
	cfg.EfficientParsing = getEnvBool("EFFICIENT_PARSING", true)
	cfg.SanitizeEntries = getEnvBool("SANITIZE_ENTRIES", true)
	cfg.FetchImages = getEnvBool("FETCH_IMAGES", false)
	cfg.ImageCacheDir = getEnvString("IMAGE_CACHE_DIR", "./images")
	cfg.ImageCacheURL = getEnvString("IMAGE_CACHE_URL", defaultImageCacheURL(cfg.ImageCacheDir))
	cfg.ImageFetchRate = getEnvFloat("IMAGE_FETCH_RATE", 5)
	cfg.DisablePictures = getEnvBool("DISABLE_PICTURES", false)
	cfg.StripWebBugs = getEnvBool("STRIP_WEB_BUGS", true)
	cfg.FeedsDir = getEnvString("FEEDS_DIR", "./feeds")

	if cfg.FetchProxyURL != "" &&
		!strings.HasPrefix(cfg.FetchProxyURL, "http://") &&
		!strings.HasPrefix(cfg.FetchProxyURL, "socks5://") {
		return nil, fmt.Errorf("FETCH_PROXY_URL must start with http:// or socks5://: %q", cfg.FetchProxyURL)
	}

	return cfg, nil
}

// defaultImageCacheURL はキャッシュディレクトリを指すfile URLを返す。末尾は必ず "/"。
func defaultImageCacheURL(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return "file://" + strings.TrimSuffix(filepath.ToSlash(abs), "/") + "/"
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
