// Package identity はリクエストのセッション認証情報を認証済みプリンシパルに解決する。
//
// 公開ルートでは解決を行わず匿名として扱う。それ以外のルートでは
// トークンの検証、プロフィールの読み込み、有効フラグとテナント所属の確認を順に行い、
// それぞれ異なるエラー種別で失敗する。
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nao1215/hrgate/internal/apperr"
	"github.com/nao1215/hrgate/internal/permission"
	"github.com/nao1215/hrgate/internal/route"
	"github.com/nao1215/hrgate/internal/store"
)

// SessionCookieName はセッショントークンを保持するCookie名。
const SessionCookieName = "session_token"

// Principal はリクエスト処理中の認証済みユーザー。永続化しない。
type Principal struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はメールアドレス。
	Email string `json:"email"`
	// Role はロール。未知のロールは権限判定ですべて拒否される。
	Role permission.Role `json:"role"`
	// TenantID は所属する会社のID。空にはならない。
	TenantID string `json:"tenant_id"`
}

// Resolver はセッショントークンとプロフィールからPrincipalを解決する。
type Resolver struct {
	issuer   *Issuer
	profiles store.ProfileLoader
}

// NewResolver は新しいResolverを生成する。
func NewResolver(issuer *Issuer, profiles store.ProfileLoader) *Resolver {
	return &Resolver{issuer: issuer, profiles: profiles}
}

// Credential はリクエストからセッショントークンを取り出す。
// Authorizationヘッダー（Bearer）を優先し、無ければCookieを参照する。
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// Resolve はリクエストをPrincipalに解決する。
// 公開ルートでは (nil, nil) を返し、匿名として扱う。
func (res *Resolver) Resolve(ctx context.Context, r *http.Request, rt route.Route) (*Principal, error) {
	if rt.IsPublic() {
		return nil, nil
	}

	token := Credential(r)
	if token == "" {
		return nil, apperr.New(apperr.KindUnauthorized, "セッショントークンが必要です")
	}
	claims, err := res.issuer.Verify(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthorized, err, "セッショントークンが無効です")
	}

	profile, err := res.profiles.LoadProfile(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindProfileNotFound, "")
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "")
	}

	if !profile.IsActive {
		return nil, apperr.New(apperr.KindAccountDeactivated, "")
	}
	if profile.CompanyID == "" {
		return nil, apperr.New(apperr.KindNoTenantAssigned, "")
	}

	email := profile.Email
	if email == "" {
		email = claims.Email
	}
	return &Principal{
		ID:       profile.ID,
		Email:    email,
		Role:     permission.Role(profile.Role),
		TenantID: profile.CompanyID,
	}, nil
}

// RateLimitIdentity はレート制限のキーに使う識別子を返す。
// 署名が正しいセッショントークンがあれば "user:<id>"、無ければ "ip:<clientIP>"。
// プロフィールは読み込まないため、無効化されたアカウントでもユーザー単位で数える。
func (res *Resolver) RateLimitIdentity(r *http.Request, clientIP string) string {
	if token := Credential(r); token != "" {
		if claims, err := res.issuer.Verify(token); err == nil {
			return "user:" + claims.Subject
		}
	}
	return "ip:" + clientIP
}
