package shared

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"propsync/internal/domain"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	LogFile     string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string `validate:"required"`
	AutoMigrate bool
	RedisAddr   string `validate:"required"`
	RedisDB     int
	RedisPass   string

	AirtableURL    string `validate:"required,url"`
	AirtableToken  string `validate:"required"`
	AirtableBaseID string `validate:"required"`
	AirtableRPS    int    `validate:"gte=1"`
	Tables         domain.Tables

	CacheKey string
	CacheTTL time.Duration

	MediaRoot       string `validate:"required"`
	MediaURL        string
	DownloadTimeout time.Duration
	DownloadWorkers int `validate:"gte=1"`

	LockTTL      time.Duration
	SyncSchedule string
}

// Load reads the environment, after merging an optional .env file.
func Load() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg(".env present but unreadable")
	}
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		LogFile:     env("LOG_FILE", ""),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/propsync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		AutoMigrate: envBool("DB_AUTO_MIGRATE", false),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		AirtableURL:    env("AIRTABLE_BASE_URL", "https://api.airtable.com/v0"),
		AirtableToken:  env("AIRTABLE_TOKEN", ""),
		AirtableBaseID: env("AIRTABLE_BASE_ID", ""),
		AirtableRPS:    atoi("AIRTABLE_RPS", 5),
		Tables: domain.Tables{
			Properties:     env("AIRTABLE_TBL_PROPERTIES", "Properties"),
			Configurations: env("AIRTABLE_TBL_CONFIGURATIONS", "Property Configurations"),
			Images:         env("AIRTABLE_TBL_IMAGES", "Property Images"),
			Amenities:      env("AIRTABLE_TBL_AMENITIES", "Property Amenities"),
		},

		CacheKey: env("CACHE_KEY", "propsync:snapshot"),
		CacheTTL: time.Duration(atoi("CACHE_TTL_SECONDS", 3600)) * time.Second,

		MediaRoot:       env("MEDIA_ROOT", "./media"),
		MediaURL:        env("MEDIA_URL", "/media/"),
		DownloadTimeout: time.Duration(atoi("DOWNLOAD_TIMEOUT_SECONDS", 30)) * time.Second,
		DownloadWorkers: atoi("DOWNLOAD_WORKERS", 4),

		LockTTL:      time.Duration(atoi("SYNC_LOCK_TTL_SECONDS", 1800)) * time.Second,
		SyncSchedule: env("SYNC_SCHEDULE", ""),
	}
	if c.AirtableToken == "" {
		log.Warn().Msg("AIRTABLE_TOKEN is empty")
	}
	return c
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate turns the first failing field into a *domain.ConfigError.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		name := fe.StructField()
		if f, ok := configFieldEnv[name]; ok {
			name = f
		}
		return &domain.ConfigError{Field: name, Msg: "failed rule '" + fe.Tag() + "'"}
	}
	return &domain.ConfigError{Msg: err.Error()}
}

var configFieldEnv = map[string]string{
	"MySQLDSN":        "MYSQL_DSN",
	"RedisAddr":       "REDIS_ADDR",
	"AirtableURL":     "AIRTABLE_BASE_URL",
	"AirtableToken":   "AIRTABLE_TOKEN",
	"AirtableBaseID":  "AIRTABLE_BASE_ID",
	"AirtableRPS":     "AIRTABLE_RPS",
	"MediaRoot":       "MEDIA_ROOT",
	"DownloadWorkers": "DOWNLOAD_WORKERS",
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	switch strings.ToLower(os.Getenv(k)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
