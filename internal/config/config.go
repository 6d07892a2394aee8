// Package config loads helix settings from an optional file and HELIX_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HELIX_JWT_SECRET.
const EnvPrefix = "HELIX"

type Config struct {
	Environment string    `mapstructure:"environment"`
	Log         Log       `mapstructure:"log"`
	HTTP        HTTP      `mapstructure:"http"`
	GRPC        GRPC      `mapstructure:"grpc"`
	Database    Database  `mapstructure:"database"`
	Redis       Redis     `mapstructure:"redis"`
	JWT         JWT       `mapstructure:"jwt"`
	Entra       Entra     `mapstructure:"entra"`
	WeCom       WeCom     `mapstructure:"wecom"`
	Upstream    Upstream  `mapstructure:"upstream"`
	Cache       Cache     `mapstructure:"cache"`
	RateLimit   RateLimit `mapstructure:"rate_limit"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type HTTP struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TrustProxy takes client addresses from X-Forwarded-For. Enable only
	// behind a proxy that overwrites the header.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

type GRPC struct {
	Addr string `mapstructure:"addr"`
}

type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis selects the shared cache. No addresses means the in-process cache.
type Redis struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	Prefix   string   `mapstructure:"prefix"`
}

type JWT struct {
	Issuer    string        `mapstructure:"issuer"`
	Secret    string        `mapstructure:"secret"`
	ValidTime time.Duration `mapstructure:"valid_time"`
}

type Entra struct {
	TenantID string        `mapstructure:"tenant_id"`
	ClientID string        `mapstructure:"client_id"`
	Host     string        `mapstructure:"host"`
	KeyTTL   time.Duration `mapstructure:"key_ttl"`
}

// Enabled reports whether Entra ID sign-in is configured.
func (e Entra) Enabled() bool { return e.TenantID != "" && e.ClientID != "" }

type WeCom struct {
	CorpID        string `mapstructure:"corp_id"`
	Secret        string `mapstructure:"secret"`
	AgentID       int64  `mapstructure:"agent_id"`
	Host          string `mapstructure:"host"`
	AuthorizeHost string `mapstructure:"authorize_host"`
	RedirectURL   string `mapstructure:"redirect_url"`
}

// Enabled reports whether WeCom sign-in is configured.
func (w WeCom) Enabled() bool { return w.CorpID != "" && w.Secret != "" }

type Upstream struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type Cache struct {
	AuthorityTTL time.Duration `mapstructure:"authority_ttl"`
}

type RateLimit struct {
	Burst     int     `mapstructure:"burst"`
	PerSecond float64 `mapstructure:"per_second"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.trust_proxy", false)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "helix:")
	v.SetDefault("jwt.issuer", "Helix Server")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.valid_time", 12*time.Hour)
	v.SetDefault("entra.tenant_id", "")
	v.SetDefault("entra.client_id", "")
	v.SetDefault("entra.host", "https://login.microsoftonline.com")
	v.SetDefault("entra.key_ttl", 24*time.Hour)
	v.SetDefault("wecom.corp_id", "")
	v.SetDefault("wecom.secret", "")
	v.SetDefault("wecom.agent_id", 0)
	v.SetDefault("wecom.host", "https://qyapi.weixin.qq.com")
	v.SetDefault("wecom.authorize_host", "https://open.weixin.qq.com")
	v.SetDefault("wecom.redirect_url", "")
	v.SetDefault("upstream.timeout", 10*time.Second)
	v.SetDefault("cache.authority_ttl", 30*time.Minute)
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.per_second", 5.0)
}

// Load reads path when non-empty, applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Redis.Addrs = splitList(cfg.Redis.Addrs)
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitList accepts both list values and a single comma separated string as
// delivered by environment variables.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	} else if len(c.JWT.Secret) < 32 {
		errs = append(errs, errors.New("jwt.secret must be at least 32 bytes"))
	}
	if c.JWT.ValidTime <= 0 {
		errs = append(errs, errors.New("jwt.valid_time must be positive"))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}
	if (c.Entra.TenantID == "") != (c.Entra.ClientID == "") {
		errs = append(errs, errors.New("entra.tenant_id and entra.client_id must be set together"))
	}
	if (c.WeCom.CorpID == "") != (c.WeCom.Secret == "") {
		errs = append(errs, errors.New("wecom.corp_id and wecom.secret must be set together"))
	}
	if c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0 {
		errs = append(errs, errors.New("rate_limit.burst and rate_limit.per_second must be positive"))
	}
	return errors.Join(errs...)
}
