package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを運ぶヘッダー名。
const RequestIDHeader = "X-Request-ID"

// requestIDKey はgin.ContextにリクエストIDを格納するキー。
const requestIDKey = "request_id"

// maxRequestIDLen は呼び出し元が指定したリクエストIDを受け入れる最大長。
const maxRequestIDLen = 128

// RequestID はリクエストごとにIDを割り当てるGinミドルウェアを返す。
// 呼び出し元が妥当なX-Request-IDを送ってきた場合はそれを引き継ぎ、
// そうでなければUUIDを採番する。IDはレスポンスヘッダーにも付与する。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID はコンテキストからリクエストIDを取得する。
// RequestIDミドルウェアを通っていない場合は空文字列を返す。
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// validRequestID はヘッダーに書き戻しても安全な値かどうかを返す。
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
