// API Gatewayサービスのエントリポイント。
// HRプラットフォームへのすべてのAPIリクエストを受け付け、レート制限、認証、
// ボディ検証、監査記録を行ってから業務APIへ転送する。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/hrgate/internal/config"
	"github.com/nao1215/hrgate/internal/gateway"
	"github.com/nao1215/hrgate/internal/identity"
	"github.com/nao1215/hrgate/internal/permission"
	"github.com/nao1215/hrgate/internal/ratelimit"
	"github.com/nao1215/hrgate/internal/store"
	"github.com/nao1215/hrgate/internal/telemetry"
	"github.com/nao1215/hrgate/pkg/httpclient"
)

// shutdownTimeout はシャットダウン時に処理中のリクエストを待つ時間。
const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "設定ファイルのパス")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[Gateway] .envの読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Gatewayサービスの起動に失敗: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Printf("[Gateway] auth.jwt_secretが未設定のため一時的なシークレットを使用します（開発環境のみ）")
	}

	db, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := bootstrapAdmin(ctx, db, cfg.Bootstrap); err != nil {
		return err
	}

	policies, err := cfg.PolicyTable()
	if err != nil {
		return err
	}
	limiter := ratelimit.NewService(policies, ratelimit.WithCleanupInterval(cfg.RateLimit.CleanupInterval))
	defer limiter.Close()

	if cfg.Telemetry.Tracing {
		shutdownTracer, err := telemetry.InitTracer("hrgate", os.Stdout)
		if err != nil {
			return fmt.Errorf("トレーサーの初期化に失敗: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracer(sctx); err != nil {
				log.Printf("[Gateway] トレーサーの停止に失敗: %v", err)
			}
		}()
	}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics {
		metrics = telemetry.NewMetrics()
	}

	var upstream *httpclient.Client
	if cfg.Upstream.BaseURL != "" {
		upstream = httpclient.New(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
	} else {
		log.Printf("[Gateway] upstream.base_urlが未設定のため業務APIは503を返します")
	}

	server := gateway.NewServer(gateway.Dependencies{
		Config:    cfg,
		Store:     db,
		Limiter:   limiter,
		Issuer:    identity.NewIssuer(secret, cfg.Auth.TokenTTL),
		Metrics:   metrics,
		Upstream:  upstream,
		Tracer:    otel.Tracer("github.com/nao1215/hrgate/internal/gateway"),
		AccessLog: os.Stdout,
	})
	httpServer := server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Gatewayサービスを起動します: %s (env=%s)", httpServer.Addr, cfg.App.Env)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Gatewayサービスを停止します")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// bootstrapAdmin は設定された初期管理者が存在しなければ作成する。
func bootstrapAdmin(ctx context.Context, db *store.SQLite, cfg config.BootstrapConfig) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	_, err := db.FindCredential(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	profile := store.Profile{
		ID:        uuid.NewString(),
		Email:     cfg.AdminEmail,
		Role:      string(permission.RoleSuperAdmin),
		CompanyID: cfg.CompanyID,
		IsActive:  true,
	}
	if err := db.CreateProfile(ctx, profile, string(hash)); err != nil {
		return err
	}
	log.Printf("[Gateway] 初期管理者を作成しました: %s", cfg.AdminEmail)
	return nil
}
