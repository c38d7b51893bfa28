package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/hrgate/internal/apperr"
	"github.com/nao1215/hrgate/internal/audit"
	"github.com/nao1215/hrgate/internal/identity"
	"github.com/nao1215/hrgate/internal/permission"
	"github.com/nao1215/hrgate/internal/route"
	"github.com/nao1215/hrgate/internal/store"
)

// Store はハンドラから使うデータアクセスの窓口。
type Store interface {
	store.ProfileLoader
	store.CredentialFinder
	audit.Recorder
	ListAuditRecords(ctx context.Context, tenantID string, limit, offset int) ([]audit.Record, int, error)
	Ping(ctx context.Context) error
}

// HandlerFunc はPipelineの内側で実行される業務ハンドラ。
// 失敗は*apperr.Errorで返す。それ以外のエラーは内部エラーになる。
type HandlerFunc func(hc *Context) (Reply, error)

// Context はハンドラに渡すリクエスト単位の情報。
type Context struct {
	// Principal は認証済みユーザー。公開ルートではnil。
	Principal *identity.Principal
	// Store はデータアクセスの窓口。
	Store Store
	// Request は元のHTTPリクエスト。
	Request *http.Request
	// Body は読み込み済みのリクエストボディ。
	Body []byte
	// Data は検証済みのボディ。検証していなければnil。
	Data map[string]any
	// Route は解決済みのルート。
	Route route.Route
	// RequestID はX-Request-IDの値。
	RequestID string
	// Gin は元のgin.Context。Cookieの設定などに使う。
	Gin *gin.Context
}

// Ctx はリクエストのコンテキストを返す。
func (hc *Context) Ctx() context.Context {
	return hc.Request.Context()
}

// Authorize はルートへのアクセス権と操作権限を確認する。
// 匿名のリクエストは常に拒否する。
func (hc *Context) Authorize(action permission.Action) error {
	if hc.Principal == nil {
		return apperr.New(apperr.KindPermissionDenied, "")
	}
	return permission.Authorize(hc.Principal.Role, hc.Route, action)
}

// String はData内の文字列フィールドを返す。
func (hc *Context) String(key string) string {
	s, _ := hc.Data[key].(string)
	return s
}
