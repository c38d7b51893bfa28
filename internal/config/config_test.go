package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/hrgate/internal/ratelimit"
)

// writeConfig はテスト用の設定ファイルを一時ディレクトリに書き込む。
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("設定ファイルの書き込みに失敗: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("ファイルが無い場合は既定値になること", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Server.Port != 8080 {
			t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
		}
		if cfg.App.Env != EnvDevelopment {
			t.Errorf("App.Env = %q, want %q", cfg.App.Env, EnvDevelopment)
		}
		if cfg.Auth.TokenTTL != 24*time.Hour {
			t.Errorf("Auth.TokenTTL = %s, want %s", cfg.Auth.TokenTTL, 24*time.Hour)
		}
		if cfg.Upstream.Timeout != 30*time.Second {
			t.Errorf("Upstream.Timeout = %s, want %s", cfg.Upstream.Timeout, 30*time.Second)
		}
		if len(cfg.RateLimit.Policies) != len(ratelimit.DefaultPolicyMap()) {
			t.Errorf("len(Policies) = %d, want %d", len(cfg.RateLimit.Policies), len(ratelimit.DefaultPolicyMap()))
		}
		if !cfg.Telemetry.Metrics {
			t.Error("Telemetry.Metrics = false, want true")
		}
	})

	t.Run("YAMLの値で既定値を上書きすること", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
auth:
  jwt_secret: file-secret
  token_ttl: 2h
cors:
  allowed_origins:
    - https://hr.example.com
ratelimit:
  cleanup_interval: 30s
  policies:
    - prefix: default
      max_requests: 10
      window: 1m
    - prefix: /api/auth/login
      max_requests: 3
      window: 30s
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
		}
		if cfg.Auth.JWTSecret != "file-secret" {
			t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "file-secret")
		}
		if cfg.Auth.TokenTTL != 2*time.Hour {
			t.Errorf("Auth.TokenTTL = %s, want %s", cfg.Auth.TokenTTL, 2*time.Hour)
		}
		if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://hr.example.com" {
			t.Errorf("CORS.AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
		}
		if cfg.RateLimit.CleanupInterval != 30*time.Second {
			t.Errorf("RateLimit.CleanupInterval = %s, want %s", cfg.RateLimit.CleanupInterval, 30*time.Second)
		}

		table, err := cfg.PolicyTable()
		if err != nil {
			t.Fatalf("PolicyTable()でエラーが発生: %v", err)
		}
		got := table.Resolve("/api/auth/login")
		want := ratelimit.Policy{MaxRequests: 3, Window: 30 * time.Second}
		if got != want {
			t.Errorf("Resolve(/api/auth/login) = %+v, want %+v", got, want)
		}
		if table.Default().MaxRequests != 10 {
			t.Errorf("Default().MaxRequests = %d, want %d", table.Default().MaxRequests, 10)
		}
	})

	t.Run("環境変数がYAMLより優先されること", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9090\n")
		t.Setenv("HRGATE_SERVER__PORT", "7070")
		t.Setenv("HRGATE_UPSTREAM__BASE_URL", "http://hr-backend:8081")

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load()でエラーが発生: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 7070)
		}
		if cfg.Upstream.BaseURL != "http://hr-backend:8081" {
			t.Errorf("Upstream.BaseURL = %q, want %q", cfg.Upstream.BaseURL, "http://hr-backend:8081")
		}
	})

	t.Run("本番環境でシークレットが無い場合はエラーになること", func(t *testing.T) {
		t.Setenv("HRGATE_APP__ENV", EnvProduction)

		_, err := Load("")
		if err == nil {
			t.Fatal("エラーが返されるべき")
		}
		if !strings.Contains(err.Error(), "jwt_secret") {
			t.Errorf("error = %v, want jwt_secretを含む", err)
		}
	})

	t.Run("不正なYAMLはエラーになること", func(t *testing.T) {
		path := writeConfig(t, "server: [unclosed\n")
		if _, err := Load(path); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			App:      AppConfig{Env: EnvDevelopment},
			Auth:     AuthConfig{TokenTTL: time.Hour},
			Upstream: UpstreamConfig{Timeout: time.Second},
			RateLimit: RateLimitConfig{
				CleanupInterval: time.Minute,
				Policies: []PolicyConfig{
					{Prefix: ratelimit.DefaultKey, MaxRequests: 100, Window: time.Minute},
				},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "正しい設定はエラーにならないこと", mutate: func(_ *Config) {}},
		{
			name:    "既定ポリシーが無い場合はエラーになること",
			mutate:  func(c *Config) { c.RateLimit.Policies[0].Prefix = "/api" },
			wantErr: "default",
		},
		{
			name: "接頭辞が重複している場合はエラーになること",
			mutate: func(c *Config) {
				c.RateLimit.Policies = append(c.RateLimit.Policies,
					PolicyConfig{Prefix: "/api/payroll", MaxRequests: 1, Window: time.Minute},
					PolicyConfig{Prefix: "/api/payroll", MaxRequests: 2, Window: time.Minute},
				)
			},
			wantErr: "重複",
		},
		{
			name:    "上限が0以下の場合はエラーになること",
			mutate:  func(c *Config) { c.RateLimit.Policies[0].MaxRequests = 0 },
			wantErr: "max_requests",
		},
		{
			name:    "ウィンドウが0以下の場合はエラーになること",
			mutate:  func(c *Config) { c.RateLimit.Policies[0].Window = 0 },
			wantErr: "window",
		},
		{
			name:    "不明な実行環境はエラーになること",
			mutate:  func(c *Config) { c.App.Env = "staging" },
			wantErr: "app.env",
		},
		{
			name: "初期管理者のパスワードが短い場合はエラーになること",
			mutate: func(c *Config) {
				c.Bootstrap = BootstrapConfig{AdminEmail: "admin@example.com", AdminPassword: "short", CompanyID: "c1"}
			},
			wantErr: "admin_password",
		},
		{
			name: "初期管理者の会社IDが無い場合はエラーになること",
			mutate: func(c *Config) {
				c.Bootstrap = BootstrapConfig{AdminEmail: "admin@example.com", AdminPassword: "long-enough"}
			},
			wantErr: "company_id",
		},
		{
			name:    "ポート番号が範囲外の場合はエラーになること",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port",
		},
		{
			name: "末尾のスラッシュだけが違う接頭辞は重複としてエラーになること",
			mutate: func(c *Config) {
				c.RateLimit.Policies = append(c.RateLimit.Policies,
					PolicyConfig{Prefix: "/api", MaxRequests: 1, Window: time.Minute},
					PolicyConfig{Prefix: "/api/", MaxRequests: 2, Window: time.Minute},
				)
			},
			wantErr: "重複",
		},
		{
			name: "ルートだけの接頭辞はエラーになること",
			mutate: func(c *Config) {
				c.RateLimit.Policies = append(c.RateLimit.Policies,
					PolicyConfig{Prefix: "/", MaxRequests: 1, Window: time.Minute},
				)
			},
			wantErr: "default",
		},
		{
			name:    "信頼するプロキシがIPでもCIDRでもない場合はエラーになること",
			mutate:  func(c *Config) { c.Server.TrustedProxies = []string{"not-an-ip"} },
			wantErr: "trusted_proxies",
		},
		{
			name:    "信頼するプロキシにCIDRを指定できること",
			mutate:  func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1"} },
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate()でエラーが発生: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("エラーが返されるべき")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want %q を含む", err, tt.wantErr)
			}
		})
	}
}
