package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"jobnotify/pkg/config"
)

// AuthConfig dispatch 接口的授权配置
type AuthConfig struct {
	CronSecret     string   `yaml:"cron_secret"`
	CronSecretHash string   `yaml:"cron_secret_hash"`
	AdminEmails    []string `yaml:"admin_emails"`
	SessionCookie  string   `yaml:"session_cookie"`
}

// BreakerConfig 服务商熔断配置
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// EmailConfig 邮件服务商配置
type EmailConfig struct {
	// Provider: http | log
	Provider string        `yaml:"provider"`
	APIURL   string        `yaml:"api_url"`
	APIKey   string        `yaml:"api_key"`
	From     string        `yaml:"from"`
	ReplyTo  string        `yaml:"reply_to"`
	Timeout  time.Duration `yaml:"timeout"`
	Breaker  BreakerConfig `yaml:"breaker"`
}

// SiteConfig 邮件中链接使用的站点信息
type SiteConfig struct {
	BaseURL string `yaml:"base_url"`
	Name    string `yaml:"name"`
}

// ClaimConfig 读取队列时的认领步骤
type ClaimConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl"`
	ScanFactor int           `yaml:"scan_factor"`
}

// ConsumerConfig MQ 触发消费者
type ConsumerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Queue   string `yaml:"queue"`
	// MaxRetries 同一条触发消息 dispatch 失败超过该次数后进入死信队列
	MaxRetries int `yaml:"max_retries"`
}

// DispatchConfig dispatch 参数
type DispatchConfig struct {
	DefaultLimit int            `yaml:"default_limit"`
	MaxLimit     int            `yaml:"max_limit"`
	Concurrency  int            `yaml:"concurrency"`
	Interval     time.Duration  `yaml:"interval"`
	Timeout      time.Duration  `yaml:"timeout"`
	MarkerTTL    time.Duration  `yaml:"marker_ttl"`
	Claim        ClaimConfig    `yaml:"claim"`
	Consumer     ConsumerConfig `yaml:"consumer"`
}

// Config dispatcher 服务配置
type Config struct {
	DB       config.DBConfig     `yaml:"db"`
	MQ       config.MQConfig     `yaml:"mq"`
	Redis    config.RedisConfig  `yaml:"redis"`
	JWT      config.JWTConfig    `yaml:"jwt"`
	Server   config.ServerConfig `yaml:"server"`
	OTel     config.OTelConfig   `yaml:"otel"`
	Debug    bool                `yaml:"debug"`
	Auth     AuthConfig          `yaml:"auth"`
	Email    EmailConfig         `yaml:"email"`
	Site     SiteConfig          `yaml:"site"`
	Dispatch DispatchConfig      `yaml:"dispatch"`
}

// Default 返回默认配置，yaml 中缺省的键保留这些值
func Default() Config {
	return Config{
		DB: config.DBConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Server: config.ServerConfig{Port: "8080"},
		OTel:   config.OTelConfig{ServiceName: "job-notification-dispatcher"},
		Auth:   AuthConfig{SessionCookie: "session"},
		Email: EmailConfig{
			Provider: "http",
			APIURL:   "https://api.resend.com",
			Timeout:  10 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
		},
		Site: SiteConfig{Name: "marketplace"},
		Dispatch: DispatchConfig{
			DefaultLimit: 50,
			MaxLimit:     200,
			Concurrency:  1,
			Timeout:      2 * time.Minute,
			MarkerTTL:    72 * time.Hour,
			Claim: ClaimConfig{
				Enabled:    true,
				TTL:        10 * time.Minute,
				ScanFactor: 4,
			},
			Consumer: ConsumerConfig{
				Queue:      "job.notifications.dispatch.q",
				MaxRetries: 5,
			},
		},
	}
}

// Load 使用统一配置中心加载配置，失败时退出
func Load() *Config {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")

	cfg, err := LoadFrom(env, configDir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom 加载 configDir 下的 base.yaml + {env}.yaml，再应用环境变量覆盖
func LoadFrom(env, configDir string) (*Config, error) {
	cfg := Default()
	if err := config.LoadInto(env, configDir, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOTelFromEnv(&cfg.OTel)
	overrideFromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		cfg.Auth.CronSecret = secret
	}
	if hash := os.Getenv("CRON_SECRET_HASH"); hash != "" {
		cfg.Auth.CronSecretHash = hash
	}
	if emails := os.Getenv("ADMIN_EMAILS"); emails != "" {
		cfg.Auth.AdminEmails = config.SplitList(emails)
	}
	if provider := os.Getenv("EMAIL_PROVIDER"); provider != "" {
		cfg.Email.Provider = provider
	}
	if key := os.Getenv("EMAIL_API_KEY"); key != "" {
		cfg.Email.APIKey = key
	}
	if from := os.Getenv("EMAIL_FROM"); from != "" {
		cfg.Email.From = from
	}
	if url := os.Getenv("SITE_URL"); url != "" {
		cfg.Site.BaseURL = url
	}
	if n := os.Getenv("DISPATCH_CONCURRENCY"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Dispatch.Concurrency = v
		}
	}
}

// Validate 检查启动必需的配置
func (c *Config) Validate() error {
	var errs []error
	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("site.base_url is required"))
	}
	switch c.Email.Provider {
	case "http":
		if c.Email.APIKey == "" {
			errs = append(errs, errors.New("email.api_key is required for the http provider"))
		}
		if c.Email.From == "" {
			errs = append(errs, errors.New("email.from is required for the http provider"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("unknown email.provider %q", c.Email.Provider))
	}
	if c.Dispatch.MaxLimit < 1 {
		errs = append(errs, errors.New("dispatch.max_limit must be positive"))
	}
	if c.Dispatch.DefaultLimit < 1 || c.Dispatch.DefaultLimit > c.Dispatch.MaxLimit {
		errs = append(errs, errors.New("dispatch.default_limit must be between 1 and dispatch.max_limit"))
	}
	if c.Dispatch.Interval < 0 {
		errs = append(errs, errors.New("dispatch.interval must not be negative"))
	}
	// 认领过期前 run 必须已结束，否则同一行会被第二个 dispatch 重新认领
	if c.Dispatch.Claim.Enabled {
		if c.Dispatch.Timeout <= 0 {
			errs = append(errs, errors.New("dispatch.timeout must be positive when dispatch.claim is enabled"))
		} else if c.Dispatch.Claim.TTL <= c.Dispatch.Timeout {
			errs = append(errs, fmt.Errorf("dispatch.claim.ttl (%s) must be longer than dispatch.timeout (%s)",
				c.Dispatch.Claim.TTL, c.Dispatch.Timeout))
		}
	}
	return errors.Join(errs...)
}
