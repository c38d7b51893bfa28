// Package config はゲートウェイの設定を読み込む。
//
// 既定値、YAMLファイル、HRGATE_ 接頭辞の環境変数の順に読み込み、後のものが優先される。
// 環境変数では "__" が階層の区切りになる（例: HRGATE_SERVER__PORT=9090）。
// 設定はプロセス起動時に一度だけ読み込み、実行中に再読み込みはしない。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/nao1215/hrgate/internal/ratelimit"
)

// minBootstrapPasswordLen は初期管理者パスワードの最小長。
const minBootstrapPasswordLen = 8

// envPrefix は設定を上書きする環境変数の接頭辞。
const envPrefix = "HRGATE_"

// 実行環境。
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	App       AppConfig       `koanf:"app"`
	Auth      AuthConfig      `koanf:"auth"`
	CORS      CORSConfig      `koanf:"cors"`
	Database  DatabaseConfig  `koanf:"database"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Bootstrap BootstrapConfig `koanf:"bootstrap"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port int `koanf:"port"`
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのIPまたはCIDR。
	// 空ならどのプロキシも信頼せず、接続元アドレスをクライアントIPとする。
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// AppConfig は実行環境の設定。
type AppConfig struct {
	// Env は development または production。
	Env string `koanf:"env"`
}

// AuthConfig はセッショントークンの設定。
type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// CORSConfig はクロスオリジンリクエストの設定。
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DatabaseConfig はSQLiteの設定。
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// UpstreamConfig は業務ハンドラの転送先の設定。BaseURLが空なら転送しない。
type UpstreamConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// RateLimitConfig はレート制限の設定。
type RateLimitConfig struct {
	CleanupInterval time.Duration  `koanf:"cleanup_interval"`
	Policies        []PolicyConfig `koanf:"policies"`
}

// PolicyConfig は1つのルート接頭辞に対するレート制限。
// Prefixが "default" のエントリは既定ポリシーになる。
type PolicyConfig struct {
	Prefix      string        `koanf:"prefix"`
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
}

// TelemetryConfig はトレースとメトリクスの設定。
type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
	Metrics bool `koanf:"metrics"`
}

// BootstrapConfig は起動時に作成する管理者アカウントの設定。
// AdminEmailが空なら作成しない。既に存在する場合は何もしない。
type BootstrapConfig struct {
	AdminEmail    string `koanf:"admin_email"`
	AdminPassword string `koanf:"admin_password"`
	CompanyID     string `koanf:"company_id"`
}

// defaults は設定ファイルと環境変数のどちらにも無いキーの既定値。
var defaults = map[string]any{
	"server.port":                8080,
	"app.env":                    EnvDevelopment,
	"auth.token_ttl":             "24h",
	"cors.allowed_origins":       []string{"http://localhost:3000"},
	"database.path":              "hrgate.db",
	"upstream.timeout":           "30s",
	"ratelimit.cleanup_interval": "1m",
	"telemetry.tracing":          false,
	"telemetry.metrics":          true,
}

// Load は設定を読み込む。pathのファイルが存在しない場合は無視する。
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			if err := k.Set(key, value); err != nil {
				return nil, fmt.Errorf("既定値の設定に失敗: %s: %w", key, err)
			}
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("設定の変換に失敗: %w", err)
	}
	if len(cfg.RateLimit.Policies) == 0 {
		cfg.RateLimit.Policies = defaultPolicies()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultPolicies は既定のレート制限ポリシーを設定の形で返す。
func defaultPolicies() []PolicyConfig {
	m := ratelimit.DefaultPolicyMap()
	policies := make([]PolicyConfig, 0, len(m))
	for prefix, p := range m {
		policies = append(policies, PolicyConfig{Prefix: prefix, MaxRequests: p.MaxRequests, Window: p.Window})
	}
	return policies
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.portが不正です: %d", c.Server.Port))
	}
	for _, proxy := range c.Server.TrustedProxies {
		if !validProxy(proxy) {
			errs = append(errs, fmt.Errorf("server.trusted_proxiesにIPアドレスまたはCIDRではない値があります: %q", proxy))
		}
	}
	switch c.App.Env {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("app.envは %s か %s である必要があります: %q", EnvDevelopment, EnvProduction, c.App.Env))
	}
	if c.IsProduction() && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("本番環境ではauth.jwt_secretが必須です"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttlは正の値である必要があります: %s", c.Auth.TokenTTL))
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.timeoutは正の値である必要があります: %s", c.Upstream.Timeout))
	}
	if c.RateLimit.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.cleanup_intervalは正の値である必要があります: %s", c.RateLimit.CleanupInterval))
	}

	if c.Bootstrap.AdminEmail != "" {
		if len(c.Bootstrap.AdminPassword) < minBootstrapPasswordLen {
			errs = append(errs, fmt.Errorf("bootstrap.admin_passwordは%d文字以上である必要があります", minBootstrapPasswordLen))
		}
		if c.Bootstrap.CompanyID == "" {
			errs = append(errs, errors.New("bootstrap.company_idが必要です"))
		}
	}

	seen := make(map[string]struct{}, len(c.RateLimit.Policies))
	for _, p := range c.RateLimit.Policies {
		prefix := ratelimit.NormalizePrefix(p.Prefix)
		if _, dup := seen[prefix]; dup {
			errs = append(errs, fmt.Errorf("ratelimit.policiesの接頭辞が重複しています: %q", p.Prefix))
		}
		seen[prefix] = struct{}{}
	}
	if _, err := c.PolicyTable(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validProxy はIPアドレスかCIDR表記かどうかを返す。
func validProxy(s string) bool {
	if net.ParseIP(s) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(s)
	return err == nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// PolicyTable はレート制限の設定からポリシー表を生成する。
func (c *Config) PolicyTable() (*ratelimit.PolicyTable, error) {
	m := make(map[string]ratelimit.Policy, len(c.RateLimit.Policies))
	for _, p := range c.RateLimit.Policies {
		m[p.Prefix] = ratelimit.Policy{MaxRequests: p.MaxRequests, Window: p.Window}
	}
	t, err := ratelimit.NewPolicyTable(m)
	if err != nil {
		return nil, fmt.Errorf("ratelimit.policiesが不正: %w", err)
	}
	return t, nil
}

// Addr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
