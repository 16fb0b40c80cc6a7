package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cpls_refresh/logger"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Trigger defaults. The refresh runs once before the morning session and once
// after the afternoon close, Vietnam time.
const (
	DefaultTimezone        = "Asia/Ho_Chi_Minh"
	DefaultMorningSchedule = "30 8 * * *"
	DefaultAfternoonCron   = "30 15 * * *"
	DefaultCachePrefix     = "market-indicators:"
	DefaultRefreshPath     = "/api/market-indicators/refresh"
)

type Config struct {
	// DotEnvLoaded reports whether a .env file was found
	DotEnvLoaded bool

	Port        string
	Environment string
	LogJSON     bool

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	MongoURI      string
	MongoDatabase string

	// Upstash Redis REST credentials
	CacheURL               string
	CacheToken             string
	CachePrefix            string
	CacheDeleteConcurrency int

	RefreshBaseURL string
	RefreshPath    string
	RefreshTimeout time.Duration

	SchedulerTimezone  string
	MorningSchedule    string
	AfternoonSchedule  string
	SchedulerAutostart bool
	SchedulerSingleton bool

	ControlJWTSecret  string
	ControlRatePerMin int

	// Browser origins allowed to call the control API with credentials
	CORSAllowedOrigins []string
}

var AppConfig *Config

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists; the logger is not up yet, so the caller
	// reports DotEnvLoaded
	dotEnvLoaded := godotenv.Load() == nil

	environment := getEnv("ENVIRONMENT", "development")

	config := &Config{
		DotEnvLoaded: dotEnvLoaded,

		Port:        getEnv("PORT", "8080"),
		Environment: environment,
		LogJSON:     getEnvBool("LOG_JSON", environment == "production"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "cpls_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "require"),
		SQLitePath: getEnv("SQLITE_PATH", "data/refresh.db"),

		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "cpls_stock"),

		CacheURL:               strings.TrimRight(getEnv("UPSTASH_REDIS_REST_URL", ""), "/"),
		CacheToken:             getEnv("UPSTASH_REDIS_REST_TOKEN", ""),
		CachePrefix:            getEnv("INDICATOR_CACHE_PREFIX", DefaultCachePrefix),
		CacheDeleteConcurrency: getEnvInt("CACHE_DELETE_CONCURRENCY", 16),

		RefreshBaseURL: strings.TrimRight(getEnv("REFRESH_BASE_URL", "http://localhost:3000"), "/"),
		RefreshPath:    getEnv("REFRESH_PATH", DefaultRefreshPath),
		RefreshTimeout: getEnvDuration("REFRESH_TIMEOUT", 5*time.Minute),

		SchedulerTimezone:  getEnv("SCHEDULER_TIMEZONE", DefaultTimezone),
		MorningSchedule:    getEnv("SCHEDULER_MORNING_CRON", DefaultMorningSchedule),
		AfternoonSchedule:  getEnv("SCHEDULER_AFTERNOON_CRON", DefaultAfternoonCron),
		SchedulerAutostart: getEnvBool("SCHEDULER_AUTOSTART", true),
		SchedulerSingleton: getEnvBool("SCHEDULER_SINGLETON", false),

		ControlJWTSecret:  getEnv("CONTROL_JWT_SECRET", ""),
		ControlRatePerMin: getEnvInt("CONTROL_RATE_PER_MIN", 30),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
	}

	if config.DBDriver != "postgres" && config.DBDriver != "sqlite" {
		return config, fmt.Errorf("unsupported DB_DRIVER %q (expected postgres or sqlite)", config.DBDriver)
	}

	AppConfig = config
	return config, nil
}

// CacheConfigured reports whether both key-value store credentials are set.
func (c *Config) CacheConfigured() bool {
	return c.CacheURL != "" && c.CacheToken != ""
}

// RefreshURL is the full URL of the indicator refresh endpoint.
func (c *Config) RefreshURL() string {
	path := c.RefreshPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.RefreshBaseURL + path
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch AppConfig.DBDriver {
	case "postgres":
		logger.Logger.Infow("Connecting to database",
			"host", maskHost(AppConfig.DBHost),
			"port", AppConfig.DBPort,
			"user", AppConfig.DBUser,
			"dbname", AppConfig.DBName,
		)
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
			AppConfig.DBHost,
			AppConfig.DBUser,
			AppConfig.DBPassword,
			AppConfig.DBName,
			AppConfig.DBPort,
			AppConfig.DBSSLMode,
			AppConfig.SchedulerTimezone,
		)
		dialector = postgres.Open(dsn)
	default:
		if dir := filepath.Dir(AppConfig.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
			}
		}
		logger.Logger.Infow("Opening sqlite database", "path", AppConfig.SQLitePath)
		dialector = sqlite.Open(AppConfig.SQLitePath)
	}

	var logLevel gormlogger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = gormlogger.Error
	} else {
		logLevel = gormlogger.Warn
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.Logger.Infow("Database connection verified", "driver", AppConfig.DBDriver)
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated variable, dropping blanks and
// trailing slashes
func getEnvList(key, defaultValue string) []string {
	out := []string{}
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		item = strings.TrimRight(strings.TrimSpace(item), "/")
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}
