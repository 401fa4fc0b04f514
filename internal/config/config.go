package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	// Server
	APIPort            string `env:"API_PORT" validate:"required"`
	BackendAPIKey      string `env:"BACKEND_API_KEY"`      // empty = no auth, dev mode
	CorsAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"` // comma-separated, empty = *
	LogLevel           string `env:"LOG_LEVEL" validate:"oneof=debug info warn warning error"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" validate:"required"`

	// Redis (optional wake-up channel and progress cache)
	RedisURL string `env:"REDIS_URL"`

	// Storage
	StorageBackend        string `env:"STORAGE_BACKEND" validate:"oneof=supabase s3"`
	StorageLocalRoot      string `env:"STORAGE_LOCAL_ROOT"`
	SupabaseURL           string `env:"SUPABASE_URL" validate:"required_if=StorageBackend supabase"`
	SupabaseServiceKey    string `env:"SUPABASE_SERVICE_KEY" validate:"required_if=StorageBackend supabase"`
	SupabaseStorageBucket string `env:"SUPABASE_STORAGE_BUCKET" validate:"required_if=StorageBackend supabase"`
	S3Bucket              string `env:"S3_BUCKET" validate:"required_if=StorageBackend s3"`
	S3Region              string `env:"S3_REGION"`
	S3Endpoint            string `env:"S3_ENDPOINT"`
	S3AccessKeyID         string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey     string `env:"S3_SECRET_ACCESS_KEY"`
	S3PublicURL           string `env:"S3_PUBLIC_URL"`

	// Worker
	PollInterval     time.Duration `env:"POLL_INTERVAL" validate:"gt=0"`
	JobTimeout       time.Duration `env:"JOB_TIMEOUT" validate:"gt=0"`
	StaleJobSchedule string        `env:"STALE_JOB_SCHEDULE" validate:"required"`
	ScratchDir       string        `env:"SCRATCH_DIR" validate:"required"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY" validate:"min=1"`
	AssetMinBytes    int64         `env:"ASSET_MIN_BYTES" validate:"min=0"`
	ProgressInterval time.Duration `env:"PROGRESS_INTERVAL" validate:"gt=0"`

	// Encoder
	FFmpegPath   string `env:"FFMPEG_PATH" validate:"required"`
	FFprobePath  string `env:"FFPROBE_PATH" validate:"required"`
	RenderWidth  int    `env:"RENDER_WIDTH" validate:"min=16"`
	RenderHeight int    `env:"RENDER_HEIGHT" validate:"min=16"`
	RenderFPS    int    `env:"RENDER_FPS" validate:"min=1,max=120"`
}

var defaults = map[string]any{
	"api_port":                "8090",
	"log_level":               "info",
	"storage_backend":         "supabase",
	"supabase_storage_bucket": "renders",
	"s3_region":               "auto",
	"poll_interval":           3 * time.Second,
	"job_timeout":             2 * time.Hour,
	"stale_job_schedule":      "@every 10m",
	"scratch_dir":             "/tmp/composer",
	"fetch_concurrency":       3,
	"asset_min_bytes":         1024,
	"progress_interval":       2 * time.Second,
	"ffmpeg_path":             "ffmpeg",
	"ffprobe_path":            "ffprobe",
	"render_width":            1920,
	"render_height":           1080,
	"render_fps":              30,
}

// Load reads configuration from the environment, an optional .env file and an
// optional composer.yaml, then validates it.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("composer")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		APIPort:               v.GetString("api_port"),
		BackendAPIKey:         v.GetString("backend_api_key"),
		CorsAllowedOrigins:    v.GetString("cors_allowed_origins"),
		LogLevel:              strings.ToLower(v.GetString("log_level")),
		DatabaseURL:           v.GetString("database_url"),
		RedisURL:              v.GetString("redis_url"),
		StorageBackend:        strings.ToLower(v.GetString("storage_backend")),
		StorageLocalRoot:      v.GetString("storage_local_root"),
		SupabaseURL:           strings.TrimRight(v.GetString("supabase_url"), "/"),
		SupabaseServiceKey:    v.GetString("supabase_service_key"),
		SupabaseStorageBucket: v.GetString("supabase_storage_bucket"),
		S3Bucket:              v.GetString("s3_bucket"),
		S3Region:              v.GetString("s3_region"),
		S3Endpoint:            v.GetString("s3_endpoint"),
		S3AccessKeyID:         v.GetString("s3_access_key_id"),
		S3SecretAccessKey:     v.GetString("s3_secret_access_key"),
		S3PublicURL:           strings.TrimRight(v.GetString("s3_public_url"), "/"),
		PollInterval:          v.GetDuration("poll_interval"),
		JobTimeout:            v.GetDuration("job_timeout"),
		StaleJobSchedule:      v.GetString("stale_job_schedule"),
		ScratchDir:            v.GetString("scratch_dir"),
		FetchConcurrency:      v.GetInt("fetch_concurrency"),
		AssetMinBytes:         v.GetInt64("asset_min_bytes"),
		ProgressInterval:      v.GetDuration("progress_interval"),
		FFmpegPath:            v.GetString("ffmpeg_path"),
		FFprobePath:           v.GetString("ffprobe_path"),
		RenderWidth:           v.GetInt("render_width"),
		RenderHeight:          v.GetInt("render_height"),
		RenderFPS:             v.GetInt("render_fps"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct tags and reports the first invalid field by its env name.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("env")
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Tag() == "required" || fe.Tag() == "required_if" {
			return fmt.Errorf("%s is required", fe.Field())
		}
		return fmt.Errorf("%s is invalid: %s", fe.Field(), fe.Tag())
	}
	return fmt.Errorf("invalid configuration: %w", err)
}

// StaleJobAge is how long a job may sit in processing before recovery requeues it.
func (c *Config) StaleJobAge() time.Duration {
	return c.JobTimeout + 15*time.Minute
}

// AllowedOrigins splits CorsAllowedOrigins, returning nil when unset.
func (c *Config) AllowedOrigins() []string {
	if strings.TrimSpace(c.CorsAllowedOrigins) == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(c.CorsAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
