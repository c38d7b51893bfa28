package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/hrgate/internal/apperr"
	"github.com/nao1215/hrgate/internal/identity"
	"github.com/nao1215/hrgate/internal/permission"
	"github.com/nao1215/hrgate/internal/route"
	"github.com/nao1215/hrgate/internal/store"
	"github.com/nao1215/hrgate/pkg/httpclient"
)

// 監査ログ一覧のページング。
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// upstreamHealthTimeout は上流のヘルスチェックの待ち時間。
const upstreamHealthTimeout = 2 * time.Second

// dummyPasswordHash は存在しないユーザーでも照合時間を揃えるためのハッシュ。
var dummyPasswordHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("hrgate-placeholder-password"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("ダミーハッシュの生成に失敗: %v", err))
	}
	return hash
})

// loginUser はログインレスポンスのユーザー情報。
type loginUser struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID string `json:"company_id"`
}

// loginResponse はログインレスポンス。
type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      loginUser `json:"user"`
}

// handleLogin はメールアドレスとパスワードを照合し、セッショントークンを発行する。
// トークンはレスポンスボディとCookieの両方で返す。
func (s *Server) handleLogin(hc *Context) (Reply, error) {
	email := hc.String("email")
	password := hc.String("password")

	cred, err := hc.Store.FindCredential(hc.Ctx(), email)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash(), []byte(password))
		return Reply{}, apperr.New(apperr.KindUnauthorized, "メールアドレスまたはパスワードが正しくありません")
	}
	if err != nil {
		return Reply{}, fmt.Errorf("認証情報の取得に失敗: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return Reply{}, apperr.New(apperr.KindUnauthorized, "メールアドレスまたはパスワードが正しくありません")
	}
	if !cred.IsActive {
		return Reply{}, apperr.New(apperr.KindAccountDeactivated, "")
	}

	token, err := s.issuer.Issue(cred.ID, cred.Email)
	if err != nil {
		return Reply{}, fmt.Errorf("トークンの発行に失敗: %w", err)
	}

	ttl := s.issuer.TTL()
	hc.Gin.SetSameSite(http.SameSiteLaxMode)
	hc.Gin.SetCookie(identity.SessionCookieName, token, int(ttl.Seconds()), "/", "", s.secureCookie, true)

	return Reply{
		Data: loginResponse{
			Token:     token,
			ExpiresAt: time.Now().Add(ttl).UTC(),
			User: loginUser{
				ID:        cred.ID,
				Email:     cred.Email,
				Role:      cred.Role,
				CompanyID: cred.CompanyID,
			},
		},
		Message: "ログインしました",
	}, nil
}

// handleMe は認証済みユーザー自身の情報を返す。
func (s *Server) handleMe(hc *Context) (Reply, error) {
	if err := hc.Authorize(permission.ActionView); err != nil {
		return Reply{}, err
	}
	return OK(hc.Principal), nil
}

// handleAuditLogs はテナントの監査ログを新しい順に返す。
func (s *Server) handleAuditLogs(hc *Context) (Reply, error) {
	if err := hc.Authorize(permission.ActionView); err != nil {
		return Reply{}, err
	}

	page, limit, err := parsePaging(hc.Request)
	if err != nil {
		return Reply{}, err
	}

	records, total, err := hc.Store.ListAuditRecords(hc.Ctx(), hc.Principal.TenantID, limit, (page-1)*limit)
	if err != nil {
		return Reply{}, fmt.Errorf("監査ログの取得に失敗: %w", err)
	}
	return List(records, Meta{Page: page, Limit: limit, Total: total}), nil
}

// parsePaging はクエリ文字列のpageとlimitを解析する。
func parsePaging(r *http.Request) (page, limit int, err error) {
	page, limit = 1, defaultPageLimit
	var details []string

	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 {
			details = append(details, "page: 1以上の整数である必要があります")
		} else {
			page = n
		}
	}
	if v := q.Get("limit"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n < 1 || n > maxPageLimit {
			details = append(details, fmt.Sprintf("limit: 1以上%d以下の整数である必要があります", maxPageLimit))
		} else {
			limit = n
		}
	}
	if len(details) > 0 {
		return 0, 0, apperr.Validation(details)
	}
	return page, limit, nil
}

// handleForward は業務APIのリクエストを上流のHRバックエンドに転送する。
// 操作の権限はHTTPメソッドから決める。
func (s *Server) handleForward(hc *Context) (Reply, error) {
	if err := hc.Authorize(permission.ActionForMethod(hc.Request.Method)); err != nil {
		return Reply{}, err
	}
	if s.upstream == nil {
		return Reply{}, apperr.New(apperr.KindServiceUnavailable, "上流サービスが設定されていません")
	}

	ctx := httpclient.WithPrincipal(hc.Ctx(), httpclient.Principal{
		UserID:    hc.Principal.ID,
		TenantID:  hc.Principal.TenantID,
		Role:      string(hc.Principal.Role),
		RequestID: hc.RequestID,
	})
	resp, err := s.upstream.Forward(ctx, hc.Request.Method, hc.Request.URL.Path, hc.Request.URL.RawQuery, hc.Body)
	if err != nil {
		if ctxErr := hc.Ctx().Err(); ctxErr != nil {
			return Reply{}, ctxErr
		}
		return Reply{}, apperr.Wrap(apperr.KindServiceUnavailable, err, "上流サービスとの通信に失敗しました")
	}
	return Raw(resp.StatusCode, resp.Header, resp.Body), nil
}

// handleHealth はデータベースと上流サービスの状態を返す。
// データベースに接続できない場合のみ失敗とする。
func (s *Server) handleHealth(hc *Context) (Reply, error) {
	if err := hc.Store.Ping(hc.Ctx()); err != nil {
		return Reply{}, apperr.Wrap(apperr.KindServiceUnavailable, err, "データベースに接続できません")
	}

	upstream := "disabled"
	if s.upstream != nil {
		ctx, cancel := context.WithTimeout(hc.Ctx(), upstreamHealthTimeout)
		defer cancel()
		upstream = "ok"
		if err := s.upstream.GetJSON(ctx, "/health", nil); err != nil {
			upstream = "unavailable"
		}
	}

	return OK(map[string]string{
		"status":   "ok",
		"service":  "gateway",
		"database": "ok",
		"upstream": upstream,
	}), nil
}

// handleMetrics はPrometheusメトリクスを返す。
func (s *Server) handleMetrics(_ *Context) (Reply, error) {
	if s.metrics == nil {
		return Reply{}, apperr.New(apperr.KindNotFound, "")
	}
	return Reply{Serve: s.metrics.Handler()}, nil
}

// handleNotFound は登録されていないパスへのリクエストに応答する。
func (s *Server) handleNotFound(_ *Context) (Reply, error) {
	return Reply{}, apperr.New(apperr.KindNotFound, "")
}

// handleMethodNotAllowed は登録済みのパスに未対応のメソッドで来たリクエストに応答する。
func (s *Server) handleMethodNotAllowed(hc *Context) (Reply, error) {
	if ep, ok := s.endpoints()[route.Match(hc.Request.URL.Path)]; ok {
		allowed := append(slices.Clone(ep.methods), http.MethodOptions)
		hc.Gin.Header("Allow", strings.Join(allowed, ", "))
	}
	return Reply{}, apperr.New(apperr.KindMethodNotAllowed, "")
}
