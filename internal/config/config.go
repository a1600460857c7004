package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string

	// SiteBaseURL is the root of the film-diary site profiles are scraped from.
	SiteBaseURL string

	// Serverless selects the constrained execution profile.
	Serverless              bool
	ChromiumExecutablePath  string
	ChromiumFallbackChannel string
	SelectorsFile           string

	InterPageDelay     time.Duration
	CleanupEveryPages  int
	HeartbeatInterval  time.Duration
	JobCeiling         time.Duration
	EmitZeroBuckets    bool
	ResultCacheSeconds int

	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseSnapshotBucket string

	TaskMaxRetries    int
	WorkerConcurrency int
}

func (c Config) IsProduction() bool { return c.AppEnv == "production" }

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func Load() Config {
	serverless := getenvBool("SERVERLESS", false)

	// constrained deployments get shorter pauses and an earlier ceiling
	delayMs, ceilingSec := 1000, 300
	if serverless {
		delayMs, ceilingSec = 500, 240
	}

	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       getenv("DATA_DIR", "./data"),

		SiteBaseURL: strings.TrimRight(getenv("SITE_BASE_URL", "https://letterboxd.com"), "/"),

		Serverless:              serverless,
		ChromiumExecutablePath:  os.Getenv("CHROMIUM_EXECUTABLE_PATH"),
		ChromiumFallbackChannel: getenv("CHROMIUM_FALLBACK_CHANNEL", "chromium"),
		SelectorsFile:           os.Getenv("SELECTORS_FILE"),

		InterPageDelay:     time.Duration(getenvInt("INTER_PAGE_DELAY_MS", delayMs)) * time.Millisecond,
		CleanupEveryPages:  getenvInt("CLEANUP_EVERY_PAGES", 5),
		HeartbeatInterval:  time.Duration(getenvInt("HEARTBEAT_SECONDS", 15)) * time.Second,
		JobCeiling:         time.Duration(getenvInt("JOB_CEILING_SECONDS", ceilingSec)) * time.Second,
		EmitZeroBuckets:    getenvBool("EMIT_ZERO_BUCKETS", true),
		ResultCacheSeconds: getenvInt("RESULT_CACHE_SECONDS", 900),

		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey:     os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseSnapshotBucket: getenv("SUPABASE_SNAPSHOT_BUCKET", "scrape-snapshots"),

		TaskMaxRetries:    getenvInt("TASK_MAX_RETRIES", 3),
		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 2),
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}
