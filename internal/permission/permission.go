// Package permission はロールと操作・ルートの対応表による権限判定を提供する。
//
// 判定は副作用の無い純粋な表引きで、未知のロールは空の権限集合（すべて拒否）になる。
// ゲートウェイのパイプラインは認証までしか行わず、リソースごとの認可は
// ハンドラがRequireやAuthorizeを明示的に呼び出して行う。
package permission

import (
	"fmt"
	"net/http"

	"github.com/nao1215/hrgate/internal/apperr"
	"github.com/nao1215/hrgate/internal/route"
)

// Role はユーザーのロール。
type Role string

const (
	// RoleSuperAdmin はプラットフォーム全体の管理者。
	RoleSuperAdmin Role = "super_admin"
	// RoleAdmin は会社の管理者。
	RoleAdmin Role = "admin"
	// RoleHRManager は人事担当者。
	RoleHRManager Role = "hr_manager"
	// RoleManager は部門の管理職。
	RoleManager Role = "manager"
	// RoleEmployee は一般従業員。
	RoleEmployee Role = "employee"
)

// Roles は既知のロールを返す。
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleHRManager, RoleManager, RoleEmployee}
}

// ParseRole は文字列をRoleに変換する。既知のロールでなければfalseを返す。
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	if _, ok := matrix[r]; ok {
		return r, true
	}
	return "", false
}

// Action はリソースに対する操作。
type Action string

const (
	// ActionView は参照。
	ActionView Action = "view"
	// ActionCreate は作成。
	ActionCreate Action = "create"
	// ActionEdit は更新。
	ActionEdit Action = "edit"
	// ActionDelete は削除。
	ActionDelete Action = "delete"
)

// ActionForMethod はHTTPメソッドに対応する操作を返す。
func ActionForMethod(method string) Action {
	switch method {
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionEdit
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionView
	}
}

// actionSet は許可された操作の集合。
type actionSet map[Action]struct{}

func actions(list ...Action) actionSet {
	s := make(actionSet, len(list))
	for _, a := range list {
		s[a] = struct{}{}
	}
	return s
}

// matrix はロールと許可された操作の対応表。
var matrix = map[Role]actionSet{
	RoleSuperAdmin: actions(ActionView, ActionCreate, ActionEdit, ActionDelete),
	RoleAdmin:      actions(ActionView, ActionCreate, ActionEdit, ActionDelete),
	RoleHRManager:  actions(ActionView, ActionCreate, ActionEdit),
	RoleManager:    actions(ActionView, ActionEdit),
	RoleEmployee:   actions(ActionView),
}

// routeRoles はルート単位でアクセスできるロール。nilなら認証済みの全ロール。
var routeRoles = map[route.Route][]Role{
	route.Health:           nil,
	route.Metrics:          nil,
	route.Login:            nil,
	route.Me:               nil,
	route.Employees:        nil,
	route.Employee:         nil,
	route.Attendance:       nil,
	route.AttendanceRecord: nil,
	route.LeaveRequests:    nil,
	route.LeaveRequest:     nil,
	route.Payroll:          {RoleSuperAdmin, RoleAdmin, RoleHRManager},
	route.PayrollRecord:    {RoleSuperAdmin, RoleAdmin, RoleHRManager},
	route.AuditLogs:        {RoleSuperAdmin, RoleAdmin},
}

// CanPerform はロールが操作を実行できるかどうかを返す。
func CanPerform(role Role, action Action) bool {
	_, ok := matrix[role][action]
	return ok
}

// CanAccess はロールがルートにアクセスできるかどうかを返す。
// 表に無いルートと未知のロールは拒否する。
func CanAccess(role Role, r route.Route) bool {
	if _, known := matrix[role]; !known {
		return false
	}
	allowed, ok := routeRoles[r]
	if !ok {
		return false
	}
	if allowed == nil {
		return true
	}
	for _, a := range allowed {
		if a == role {
			return true
		}
	}
	return false
}

// Require は操作が許可されていなければPermissionDeniedエラーを返す。
func Require(role Role, action Action) error {
	if CanPerform(role, action) {
		return nil
	}
	return apperr.New(apperr.KindPermissionDenied, fmt.Sprintf("ロール %q には %s 権限がありません", role, action))
}

// Authorize はルートへのアクセスと操作の両方を確認する。
func Authorize(role Role, r route.Route, action Action) error {
	if !CanAccess(role, r) {
		return apperr.New(apperr.KindPermissionDenied, fmt.Sprintf("ロール %q は %s にアクセスできません", role, r))
	}
	return Require(role, action)
}
