package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Comments CommentsConfig `yaml:"comments"`
}

type ServerConfig struct {
	Port         int    `yaml:"port"`
	Env          string `yaml:"env"`
	LogLevel     string `yaml:"log_level"`
	TemplatesDir string `yaml:"templates_dir"`
	StaticDir    string `yaml:"static_dir"`

	// AllowedOrigins may open the live socket besides the serving host.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // postgres or sqlite
	URL    string `yaml:"url"`
}

type RedisConfig struct {
	URL string `yaml:"url"` // empty disables cross-instance change events
}

type AuthConfig struct {
	SessionSecret string `yaml:"session_secret"`
	JWTSecret     string `yaml:"jwt_secret"`
	LoginURL      string `yaml:"login_url"`
}

type CommentsConfig struct {
	RefetchDelay      time.Duration `yaml:"refetch_delay"`
	ReconcileSchedule string        `yaml:"reconcile_schedule"`
	MaxContentLength  int           `yaml:"max_content_length"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Env:          "dev",
			LogLevel:     "info",
			TemplatesDir: "./web/templates",
			StaticDir:    "./web/static",
		},
		Database: DatabaseConfig{
			Driver: "postgres",
			URL:    "host=localhost user=postgres password=postgres dbname=rujing port=5432 sslmode=disable TimeZone=Asia/Shanghai",
		},
		Auth: AuthConfig{
			SessionSecret: "secret_key_change_me",
			LoginURL:      "/login",
		},
		Comments: CommentsConfig{
			RefetchDelay:      250 * time.Millisecond,
			ReconcileSchedule: "0 3 * * *",
			MaxContentLength:  2000,
		},
	}
}

// Load reads defaults, then the yaml file at path (if it exists), then .env,
// then the process environment. Later sources win.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if env := os.Getenv("ENV"); env != "" {
		cfg.Server.Env = env
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Server.LogLevel = logLevel
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = cfg.Server.AllowedOrigins[:0]
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if secret := os.Getenv("SESSION_SECRET"); secret != "" {
		cfg.Auth.SessionSecret = secret
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if loginURL := os.Getenv("LOGIN_URL"); loginURL != "" {
		cfg.Auth.LoginURL = loginURL
	}
	if delay := os.Getenv("COMMENTS_REFETCH_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			cfg.Comments.RefetchDelay = d
		}
	}
	if schedule := os.Getenv("LIKE_RECONCILE_SCHEDULE"); schedule != "" {
		cfg.Comments.ReconcileSchedule = schedule
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "prod" || c.Server.Env == "production"
}
