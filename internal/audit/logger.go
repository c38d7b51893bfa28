// Package audit はゲートウェイを通過したリクエストの監査記録を提供する。
//
// 記録はベストエフォートで、永続化の失敗やパニックは呼び出し元に伝播しない。
// 失敗は標準ログ（二次チャネル）に1行だけ出力する。
package audit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Outcome はリクエストの結果。
type Outcome string

const (
	// OutcomeSuccess はハンドラまで到達し成功したことを表す。
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure はいずれかのステージで失敗したことを表す。
	OutcomeFailure Outcome = "failure"
	// OutcomeCancelled は呼び出し元がリクエストを中断したことを表す。
	OutcomeCancelled Outcome = "cancelled"
)

// Record は1リクエスト分の監査記録。書き込み後は変更しない。
type Record struct {
	// ID は記録の一意識別子（UUID）。
	ID string `json:"id"`
	// RequestID はX-Request-IDと同じ値。
	RequestID string `json:"request_id"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path は生のリクエストパス。
	Path string `json:"path"`
	// Route は正規化済みのルート名。
	Route string `json:"route"`
	// PrincipalID は認証済みユーザーのID。匿名なら空。
	PrincipalID string `json:"principal_id,omitempty"`
	// TenantID は会社ID。匿名なら空。
	TenantID string `json:"tenant_id,omitempty"`
	// Status は返したHTTPステータスコード。
	Status int `json:"status"`
	// DurationMs は処理時間（ミリ秒）。
	DurationMs int64 `json:"duration_ms"`
	// Outcome は結果の分類。
	Outcome Outcome `json:"outcome"`
	// ErrorMessage は失敗時のエラー内容。
	ErrorMessage string `json:"error_message,omitempty"`
	// SourceIP はクライアントのIPアドレス。
	SourceIP string `json:"source_ip,omitempty"`
	// CreatedAt は記録日時。
	CreatedAt time.Time `json:"created_at"`
}

// Recorder は監査記録の永続化先。
type Recorder interface {
	RecordAudit(ctx context.Context, rec Record) error
}

// Logger は監査記録をRecorderに渡す。失敗は握りつぶす。
type Logger struct {
	recorder Recorder
	now      func() time.Time
}

// NewLogger は新しいLoggerを生成する。recorderがnilの場合は何も記録しない。
func NewLogger(recorder Recorder) *Logger {
	return &Logger{recorder: recorder, now: time.Now}
}

// Log は監査記録を書き込む。IDと記録日時が未設定なら補完する。
// 書き込みの成否にかかわらずレスポンスには影響しない。
func (l *Logger) Log(ctx context.Context, rec Record) {
	if l == nil || l.recorder == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now().UTC()
	}

	if err := l.record(ctx, rec); err != nil {
		log.Printf("[Audit] 監査ログの記録に失敗: method=%s path=%s error=%v", rec.Method, rec.Path, err)
	}
}

// record はRecorderの呼び出しをパニックからも保護する。
func (l *Logger) record(ctx context.Context, rec Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("監査ログ記録中のパニック: %v", r)
		}
	}()
	return l.recorder.RecordAudit(ctx, rec)
}
