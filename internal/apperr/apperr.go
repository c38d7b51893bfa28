// Package apperr はゲートウェイ全体で共有するエラー分類を提供する。
//
// パイプラインの各ステージはこのパッケージの *Error を返し、
// オーケストレータがKindからHTTPステータスとエンベロープの error コードを決定する。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind はエラーの分類を表す。
type Kind int

const (
	// KindInternal は想定外の内部エラー。
	KindInternal Kind = iota
	// KindRateLimitExceeded はレート制限超過。
	KindRateLimitExceeded
	// KindUnauthorized は認証情報が無い、または無効であることを表す。
	KindUnauthorized
	// KindProfileNotFound は認証済みユーザーのプロフィールが存在しないことを表す。
	KindProfileNotFound
	// KindAccountDeactivated はアカウントが無効化されていることを表す。
	KindAccountDeactivated
	// KindNoTenantAssigned はユーザーが会社（テナント）に所属していないことを表す。
	KindNoTenantAssigned
	// KindValidationFailed はリクエストボディがスキーマに違反していることを表す。
	KindValidationFailed
	// KindMalformedBody はリクエストボディがJSONとして解析できないことを表す。
	KindMalformedBody
	// KindPermissionDenied はハンドラが権限チェックで拒否したことを表す。
	KindPermissionDenied
	// KindNotFound は存在しないルートへのアクセス。
	KindNotFound
	// KindMethodNotAllowed はルートが存在するがHTTPメソッドを受け付けないことを表す。
	KindMethodNotAllowed
	// KindServiceUnavailable は上流サービスが利用できないことを表す。
	KindServiceUnavailable
)

// kindInfo はKindごとのステータスコード、エラーコード、既定メッセージ。
var kindInfo = map[Kind]struct {
	status  int
	code    string
	message string
}{
	KindInternal:           {http.StatusInternalServerError, "internal_error", "内部サーバーエラーが発生しました"},
	KindRateLimitExceeded:  {http.StatusTooManyRequests, "rate_limit_exceeded", "リクエスト数が上限を超えました。しばらく待ってから再試行してください"},
	KindUnauthorized:       {http.StatusUnauthorized, "unauthorized", "認証が必要です"},
	KindProfileNotFound:    {http.StatusForbidden, "profile_not_found", "ユーザープロフィールが見つかりません"},
	KindAccountDeactivated: {http.StatusForbidden, "account_deactivated", "アカウントが無効化されています。管理者に連絡してください"},
	KindNoTenantAssigned:   {http.StatusForbidden, "no_tenant_assigned", "会社に所属していません。管理者に連絡してください"},
	KindValidationFailed:   {http.StatusBadRequest, "validation_failed", "入力内容に誤りがあります"},
	KindMalformedBody:      {http.StatusBadRequest, "malformed_body", "リクエストボディをJSONとして解析できません"},
	KindPermissionDenied:   {http.StatusForbidden, "permission_denied", "この操作を行う権限がありません"},
	KindNotFound:           {http.StatusNotFound, "not_found", "リソースが見つかりません"},
	KindMethodNotAllowed:   {http.StatusMethodNotAllowed, "method_not_allowed", "このHTTPメソッドは使用できません"},
	KindServiceUnavailable: {http.StatusServiceUnavailable, "service_unavailable", "サービスが利用できません"},
}

// Status はKindに対応するHTTPステータスコードを返す。
func (k Kind) Status() int {
	if info, ok := kindInfo[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Code はエンベロープの error フィールドに載せる機械可読なコードを返す。
func (k Kind) Code() string {
	if info, ok := kindInfo[k]; ok {
		return info.code
	}
	return "internal_error"
}

// String はfmt.Stringerを実装する。
func (k Kind) String() string { return k.Code() }

// DefaultMessage はKindの既定メッセージを返す。
func (k Kind) DefaultMessage() string {
	if info, ok := kindInfo[k]; ok {
		return info.message
	}
	return kindInfo[KindInternal].message
}

// Error はパイプラインのステージ失敗を表す。
type Error struct {
	// Kind はエラーの分類。
	Kind Kind
	// Message は呼び出し元に返す説明文。空の場合はKindの既定メッセージを使う。
	Message string
	// Details はフィールド単位の検証エラーなど、付随するメッセージ一覧。
	Details []string
	// RetryAfter はレート制限超過時の再試行までの待ち時間。
	RetryAfter time.Duration
	// Err は原因となったエラー。サーバー側のログにのみ出力する。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.DefaultMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), msg)
}

// Unwrap は原因エラーを返す。
func (e *Error) Unwrap() error { return e.Err }

// PublicMessage は呼び出し元に返すメッセージを返す。
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.DefaultMessage()
}

// New は指定したKindのエラーを生成する。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap は原因エラーを保持したエラーを生成する。
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation はフィールド単位のエラー一覧を持つ検証エラーを生成する。
func Validation(details []string) *Error {
	return &Error{Kind: KindValidationFailed, Details: details}
}

// RateLimited はRetry-Afterを持つレート制限エラーを生成する。
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimitExceeded, RetryAfter: retryAfter}
}

// From は任意のerrorを*Errorに変換する。*Errorでないものは内部エラー扱いとする。
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return &Error{Kind: KindInternal, Err: err}
}

// Is はerrがkindの*Errorかどうかを返す。
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
