// Package store はゲートウェイが利用する永続化層を提供する。
//
// テナント単位のプロフィール（ロール、会社、有効フラグ）の読み込み、
// ログイン用の認証情報の検索、監査ログの追記と参照を担う。
// 実装はSQLite（modernc.org/sqlite）で、スキーマはembedしたマイグレーションで管理する。
package store
