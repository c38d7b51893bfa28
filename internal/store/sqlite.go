package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/hrgate/internal/audit"
	"github.com/nao1215/hrgate/pkg/migration"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.up.sql
var migrations embed.FS

// auditTimeLayout は監査ログの記録日時の保存形式。桁数を固定して文字列順と時刻順を一致させる。
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite はSQLiteによる永続化層の実装。
type SQLite struct {
	db *sql.DB
}

var (
	_ ProfileLoader    = (*SQLite)(nil)
	_ CredentialFinder = (*SQLite)(nil)
	_ audit.Recorder   = (*SQLite)(nil)
)

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// pathに ":memory:" を指定するとインメモリDBになる。
func Open(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// インメモリDBは接続ごとに別のDBになるため1接続に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadProfile はユーザーIDからプロフィールを読み込む。
func (s *SQLite) LoadProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, role, company_id, is_active FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Email, &p.Role, &p.CompanyID, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗: %w", err)
	}
	return &p, nil
}

// FindCredential はメールアドレスから認証情報を検索する。
func (s *SQLite) FindCredential(ctx context.Context, email string) (*Credential, error) {
	var c Credential
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, role, company_id, is_active, password_hash FROM profiles WHERE email = ?`, email,
	).Scan(&c.ID, &c.Email, &c.Role, &c.CompanyID, &c.IsActive, &c.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("認証情報の取得に失敗: %w", err)
	}
	return &c, nil
}

// CreateProfile はプロフィールを作成する。初期データ投入とテストで使用する。
func (s *SQLite) CreateProfile(ctx context.Context, p Profile, passwordHash string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, role, company_id, is_active, password_hash) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Email, p.Role, p.CompanyID, p.IsActive, passwordHash,
	); err != nil {
		return fmt.Errorf("プロフィールの作成に失敗: %w", err)
	}
	return nil
}

// RecordAudit は監査記録を追記する。
func (s *SQLite) RecordAudit(ctx context.Context, rec audit.Record) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, request_id, method, path, route, principal_id, tenant_id, status, duration_ms, outcome, error_message, source_ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, rec.Method, rec.Path, rec.Route, rec.PrincipalID, rec.TenantID,
		rec.Status, rec.DurationMs, string(rec.Outcome), rec.ErrorMessage, rec.SourceIP,
		rec.CreatedAt.UTC().Format(auditTimeLayout),
	); err != nil {
		return fmt.Errorf("監査ログの追記に失敗: %w", err)
	}
	return nil
}

// ListAuditRecords はテナントの監査記録を新しい順に返す。totalは全件数。
func (s *SQLite) ListAuditRecords(ctx context.Context, tenantID string, limit, offset int) ([]audit.Record, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE tenant_id = ?`, tenantID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("監査ログ件数の取得に失敗: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, method, path, route, principal_id, tenant_id, status, duration_ms, outcome, error_message, source_ip, created_at
		 FROM audit_logs WHERE tenant_id = ? ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		tenantID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("監査ログの取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]audit.Record, 0, limit)
	for rows.Next() {
		var (
			rec       audit.Record
			outcome   string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Method, &rec.Path, &rec.Route, &rec.PrincipalID,
			&rec.TenantID, &rec.Status, &rec.DurationMs, &outcome, &rec.ErrorMessage, &rec.SourceIP, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("監査ログの読み取りに失敗: %w", err)
		}
		rec.Outcome = audit.Outcome(outcome)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			rec.CreatedAt = t
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("監査ログの読み取りに失敗: %w", err)
	}
	return records, total, nil
}
