package gateway

import (
	"net/http"
)

// Envelope はゲートウェイが返す唯一のレスポンス形式。
// Successがfalseなら必ず2xx以外のステータスで、Errorは空にならない。
type Envelope struct {
	Success bool     `json:"success"`
	Data    any      `json:"data,omitempty"`
	Error   string   `json:"error,omitempty"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
	Meta    *Meta    `json:"meta,omitempty"`
}

// Meta は一覧レスポンスのページ情報。
type Meta struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

// Reply はハンドラの戻り値。
// Data系のフィールドはエンベロープに整形され、RawやServeは構築済みのレスポンスとしてそのまま返す。
type Reply struct {
	// Data はエンベロープのdataに入れる値。
	Data any
	// Message はエンベロープのmessage。
	Message string
	// Meta は一覧のページ情報。
	Meta *Meta
	// Raw は上流から受け取ったレスポンスなど、加工せずに返すレスポンス。
	Raw *RawResponse
	// Serve はレスポンスを直接書き込むハンドラ（/metricsなど）。
	Serve http.Handler
}

// RawResponse は構築済みのレスポンス。
type RawResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK はdataを持つ成功レスポンスを返す。
func OK(data any) Reply {
	return Reply{Data: data}
}

// List はページ情報付きの成功レスポンスを返す。
func List(data any, meta Meta) Reply {
	return Reply{Data: data, Meta: &meta}
}

// Raw は構築済みのレスポンスを返す。
func Raw(status int, header http.Header, body []byte) Reply {
	return Reply{Raw: &RawResponse{Status: status, Header: header, Body: body}}
}
