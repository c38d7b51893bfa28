// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// CORSヘッダーの付与、リクエストIDの採番、パニックリカバリなど、
// ゲートウェイのパイプラインの外側で動くミドルウェアを含む。
package middleware
