package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Vision    VisionConfig
	Whisper   WhisperConfig
	Ollama    OllamaConfig
	Fusion    FusionConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour int
	JobsPerMin    int
}

type StorageConfig struct {
	UploadDir string // persisted source and annotated videos
	WorkDir   string // per-job transient artifacts (frames, wav)
}

type VisionConfig struct {
	ServiceURL    string
	Timeout       int // seconds, per frame
	FrameRate     int // sampled frames per second of video
	MinConfidence float64
	Annotate      bool
}

type WhisperConfig struct {
	ServiceURL string
	Timeout    int // seconds
}

type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout int // seconds
}

type FusionConfig struct {
	Window float64 // correlation window, seconds
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.upload_per_hour", "RATE_LIMIT_UPLOAD_PER_HOUR")
	_ = viper.BindEnv("ratelimit.jobs_per_min", "RATE_LIMIT_JOBS_PER_MIN")
	_ = viper.BindEnv("storage.upload_dir", "UPLOAD_DIR")
	_ = viper.BindEnv("storage.work_dir", "WORK_DIR")
	_ = viper.BindEnv("vision.service_url", "VISION_SERVICE_URL")
	_ = viper.BindEnv("vision.timeout", "VISION_SERVICE_TIMEOUT")
	_ = viper.BindEnv("vision.frame_rate", "VISION_FRAME_RATE")
	_ = viper.BindEnv("vision.min_confidence", "VISION_MIN_CONFIDENCE")
	_ = viper.BindEnv("vision.annotate", "VISION_ANNOTATE")
	_ = viper.BindEnv("whisper.service_url", "WHISPER_SERVICE_URL")
	_ = viper.BindEnv("whisper.timeout", "WHISPER_SERVICE_TIMEOUT")
	_ = viper.BindEnv("ollama.base_url", "OLLAMA_BASE_URL")
	_ = viper.BindEnv("ollama.model", "OLLAMA_MODEL")
	_ = viper.BindEnv("ollama.timeout", "OLLAMA_TIMEOUT")
	_ = viper.BindEnv("fusion.window", "FUSION_WINDOW")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.upload_per_hour", 20)
	viper.SetDefault("ratelimit.jobs_per_min", 60)

	// Storage defaults
	viper.SetDefault("storage.upload_dir", "data/raw")
	viper.SetDefault("storage.work_dir", "data/work")

	// Vision detector defaults
	viper.SetDefault("vision.service_url", "http://localhost:8081")
	viper.SetDefault("vision.timeout", 30)
	viper.SetDefault("vision.frame_rate", 1)
	viper.SetDefault("vision.min_confidence", 0.4)
	viper.SetDefault("vision.annotate", true)

	// Whisper transcriber defaults
	viper.SetDefault("whisper.service_url", "http://localhost:8082")
	viper.SetDefault("whisper.timeout", 300)

	// Ollama summarizer defaults
	viper.SetDefault("ollama.base_url", "http://localhost:11434")
	viper.SetDefault("ollama.model", "llama3.1")
	viper.SetDefault("ollama.timeout", 60)

	// Fusion defaults
	viper.SetDefault("fusion.window", 3.0)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour: viper.GetInt("ratelimit.upload_per_hour"),
			JobsPerMin:    viper.GetInt("ratelimit.jobs_per_min"),
		},
		Storage: StorageConfig{
			UploadDir: viper.GetString("storage.upload_dir"),
			WorkDir:   viper.GetString("storage.work_dir"),
		},
		Vision: VisionConfig{
			ServiceURL:    viper.GetString("vision.service_url"),
			Timeout:       viper.GetInt("vision.timeout"),
			FrameRate:     viper.GetInt("vision.frame_rate"),
			MinConfidence: viper.GetFloat64("vision.min_confidence"),
			Annotate:      viper.GetBool("vision.annotate"),
		},
		Whisper: WhisperConfig{
			ServiceURL: viper.GetString("whisper.service_url"),
			Timeout:    viper.GetInt("whisper.timeout"),
		},
		Ollama: OllamaConfig{
			BaseURL: viper.GetString("ollama.base_url"),
			Model:   viper.GetString("ollama.model"),
			Timeout: viper.GetInt("ollama.timeout"),
		},
		Fusion: FusionConfig{
			Window: viper.GetFloat64("fusion.window"),
		},
	}

	return cfg, nil
}
