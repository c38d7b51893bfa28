package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout はタイムアウト未指定時の既定値。
const DefaultTimeout = 30 * time.Second

// maxResponseBytes は上流レスポンスボディの読み込み上限。
const maxResponseBytes = 10 << 20

// 上流に伝播するヘッダー名。
const (
	HeaderUserID    = "X-User-ID"
	HeaderTenantID  = "X-Tenant-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderRequestID = "X-Request-ID"
)

// forwardedResponseHeaders は上流レスポンスから呼び出し元に引き継ぐヘッダー。
var forwardedResponseHeaders = []string{"Content-Type", "Cache-Control", "ETag", "Last-Modified", "Location"}

// Client は上流サービスへのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先サービスのベースURL。
	baseURL string
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先サービスのベースURL（例: "http://hr-backend:8081"）を指定する。
// timeoutが0以下なら既定値を使う。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

// Response は上流から受け取ったレスポンス。
type Response struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header は呼び出し元に引き継ぐヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// Forward はリクエストを上流にそのまま転送し、レスポンスを返す。
// 上流が4xx/5xxを返してもエラーにはせず、Responseとして返す。
func (c *Client) Forward(ctx context.Context, method, path, rawQuery string, body []byte) (*Response, error) {
	url := c.baseURL + path
	if rawQuery != "" {
		url += "?" + rawQuery
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	setPrincipalHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み込みに失敗: %w", err)
	}

	header := make(http.Header)
	for _, name := range forwardedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			header.Set(name, v)
		}
	}
	return &Response{StatusCode: resp.StatusCode, Header: header, Body: respBody}, nil
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。2xx以外はエラーになる。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	setPrincipalHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTPエラー: status=%d, body=%s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// Principal は上流に伝播する認証済みユーザーの情報。
type Principal struct {
	UserID    string
	TenantID  string
	Role      string
	RequestID string
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyPrincipal はコンテキストにPrincipalを格納するためのキー。
const contextKeyPrincipal contextKey = "principal"

// WithPrincipal はコンテキストに上流へ伝播するユーザー情報を設定する。
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// setPrincipalHeaders はコンテキストのユーザー情報をヘッダーに設定する。空の値は設定しない。
func setPrincipalHeaders(ctx context.Context, req *http.Request) {
	p, ok := ctx.Value(contextKeyPrincipal).(Principal)
	if !ok {
		return
	}
	for name, value := range map[string]string{
		HeaderUserID:    p.UserID,
		HeaderTenantID:  p.TenantID,
		HeaderUserRole:  p.Role,
		HeaderRequestID: p.RequestID,
	} {
		if value != "" {
			req.Header.Set(name, value)
		}
	}
}
