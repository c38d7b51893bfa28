package store

import (
	"context"
	"errors"
)

// ErrNotFound は対象のレコードが存在しないことを表す。
var ErrNotFound = errors.New("レコードが見つかりません")

// Profile はテナントに紐づくユーザープロフィール。
type Profile struct {
	// ID はユーザーの一意識別子。セッショントークンのsubjectと一致する。
	ID string
	// Email はメールアドレス。
	Email string
	// Role はロール名。
	Role string
	// CompanyID は所属する会社（テナント）のID。未所属なら空。
	CompanyID string
	// IsActive はアカウントが有効かどうか。
	IsActive bool
}

// Credential はログイン時に照合する認証情報。
type Credential struct {
	Profile
	// PasswordHash はbcryptでハッシュ化したパスワード。
	PasswordHash string
}

// ProfileLoader はユーザーIDからプロフィールを読み込む。
// 存在しない場合はErrNotFoundを返す。
type ProfileLoader interface {
	LoadProfile(ctx context.Context, id string) (*Profile, error)
}

// CredentialFinder はメールアドレスから認証情報を検索する。
type CredentialFinder interface {
	FindCredential(ctx context.Context, email string) (*Credential, error)
}
