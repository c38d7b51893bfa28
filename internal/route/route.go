// Package route はゲートウェイが扱うAPIルートの閉じた列挙を提供する。
//
// レート制限ポリシー、検証スキーマ、ルート単位の権限表はすべてRouteをキーにする。
// 新しいルートを追加した場合は各テーブルのテストが未登録を検出する。
package route

import (
	"regexp"
	"strings"
)

// Route はゲートウェイが認識するAPIルート。
type Route int

const (
	// Unknown はどのパターンにも一致しないパス。
	Unknown Route = iota
	// Health はヘルスチェック。
	Health
	// Metrics はPrometheusメトリクス。
	Metrics
	// Login はログイン（セッショントークン発行）。
	Login
	// Me は認証済みユーザー自身の情報。
	Me
	// Employees は従業員の一覧・作成。
	Employees
	// Employee は従業員1件の取得・更新・削除。
	Employee
	// Attendance は勤怠の一覧・打刻。
	Attendance
	// AttendanceRecord は勤怠1件。
	AttendanceRecord
	// LeaveRequests は休暇申請の一覧・作成。
	LeaveRequests
	// LeaveRequest は休暇申請1件（承認・却下）。
	LeaveRequest
	// Payroll は給与の一覧・計算。
	Payroll
	// PayrollRecord は給与明細1件。
	PayrollRecord
	// AuditLogs は監査ログの参照。
	AuditLogs

	routeCount
)

// IDSegment は正規化後の動的セグメントを表すプレースホルダ。
const IDSegment = "{id}"

// definition はルートの静的な定義。
type definition struct {
	name    string
	pattern string
	public  bool
}

var definitions = [routeCount]definition{
	Unknown:          {name: "unknown"},
	Health:           {name: "health", pattern: "/health", public: true},
	Metrics:          {name: "metrics", pattern: "/metrics", public: true},
	Login:            {name: "login", pattern: "/api/auth/login", public: true},
	Me:               {name: "me", pattern: "/api/me"},
	Employees:        {name: "employees", pattern: "/api/employees"},
	Employee:         {name: "employee", pattern: "/api/employees/{id}"},
	Attendance:       {name: "attendance", pattern: "/api/attendance"},
	AttendanceRecord: {name: "attendance_record", pattern: "/api/attendance/{id}"},
	LeaveRequests:    {name: "leave_requests", pattern: "/api/leave-requests"},
	LeaveRequest:     {name: "leave_request", pattern: "/api/leave-requests/{id}"},
	Payroll:          {name: "payroll", pattern: "/api/payroll"},
	PayrollRecord:    {name: "payroll_record", pattern: "/api/payroll/{id}"},
	AuditLogs:        {name: "audit_logs", pattern: "/api/audit-logs"},
}

// byPattern は正規化済みパスからRouteを引くための索引。
var byPattern = func() map[string]Route {
	m := make(map[string]Route, routeCount)
	for r := Unknown + 1; r < routeCount; r++ {
		m[definitions[r].pattern] = r
	}
	return m
}()

// All はUnknownを除くすべてのRouteを返す。
func All() []Route {
	routes := make([]Route, 0, routeCount-1)
	for r := Unknown + 1; r < routeCount; r++ {
		routes = append(routes, r)
	}
	return routes
}

// String はルート名を返す。メトリクスのラベルにも使う。
func (r Route) String() string {
	if r < 0 || r >= routeCount {
		return definitions[Unknown].name
	}
	return definitions[r].name
}

// Pattern は正規化済みのパスパターンを返す。
func (r Route) Pattern() string {
	if r < 0 || r >= routeCount {
		return ""
	}
	return definitions[r].pattern
}

// GinPattern はGinのルーター登録用パターン（{id} を :id に置換）を返す。
func (r Route) GinPattern() string {
	return strings.ReplaceAll(r.Pattern(), IDSegment, ":id")
}

// IsPublic は認証を必要としないルートかどうかを返す。
func (r Route) IsPublic() bool {
	if r < 0 || r >= routeCount {
		return false
	}
	return definitions[r].public
}

// Match はリクエストパスを正規化し、対応するRouteを返す。
func Match(path string) Route {
	if r, ok := byPattern[Normalize(path)]; ok {
		return r
	}
	return Unknown
}

var (
	// uuidPattern はUUID形式のセグメント。
	uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	// opaquePattern は数字を1つ以上含む英数字・記号からなる不透明ID。
	opaquePattern = regexp.MustCompile(`^[A-Za-z0-9_-]*[0-9][A-Za-z0-9_-]*$`)
	// versionPattern はAPIバージョン（v1, v2...）のセグメント。
	versionPattern = regexp.MustCompile(`^v[0-9]+$`)
)

// collections は直後のセグメントが必ずIDになるコレクションのパターン。
var collections = func() map[string]struct{} {
	m := make(map[string]struct{})
	for r := Unknown + 1; r < routeCount; r++ {
		if prefix, ok := strings.CutSuffix(definitions[r].pattern, "/"+IDSegment); ok {
			m[prefix] = struct{}{}
		}
	}
	return m
}()

// Normalize はパスから動的セグメントを取り除き、IDSegmentに置き換える。
// レート制限のキー、ポリシー検索、スキーマ検索はすべてこの正規化を共有する。
// コレクション直後のセグメントは、ルーターの :id と同じく形にかかわらずIDとみなす。
func Normalize(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	trimmed := strings.TrimSuffix(path, "/")
	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if _, ok := collections[strings.Join(segments[:i], "/")]; ok || isDynamicSegment(seg) {
			segments[i] = IDSegment
		}
	}
	return strings.Join(segments, "/")
}

// isDynamicSegment はセグメントが識別子とみなせるかどうかを返す。
// 数字を含むセグメントは識別子とする。ただしAPIバージョンは静的な名前として扱う。
func isDynamicSegment(seg string) bool {
	if uuidPattern.MatchString(seg) {
		return true
	}
	return opaquePattern.MatchString(seg) && !versionPattern.MatchString(seg)
}
