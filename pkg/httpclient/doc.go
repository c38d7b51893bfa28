// Package httpclient はゲートウェイから上流のHRバックエンドへHTTPリクエストを転送するクライアントを提供する。
//
// 認証済みユーザーの情報はコンテキスト経由でヘッダーとして伝播する。
// 上流のレスポンスはステータスコード、ヘッダー、ボディをそのまま呼び出し元に返す。
package httpclient
