package validation

import "github.com/nao1215/hrgate/internal/route"

// FieldType はJSONフィールドの型。
type FieldType int

const (
	// TypeString は文字列。
	TypeString FieldType = iota
	// TypeNumber は数値。
	TypeNumber
	// TypeInteger は小数部を持たない数値。
	TypeInteger
	// TypeBoolean は真偽値。
	TypeBoolean
	// TypeArray は配列。
	TypeArray
	// TypeObject はオブジェクト。
	TypeObject
)

// String は型名を返す。エラーメッセージに使う。
func (t FieldType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeArray:
		return "array"
	case TypeObject:
		return "object"
	default:
		return "unknown"
	}
}

// Field はスキーマの1フィールド。
type Field struct {
	// Name はJSONのキー。
	Name string
	// Type は期待する型。
	Type FieldType
	// Required は必須項目かどうか。
	Required bool
	// Rule はgo-playground/validatorのタグ形式で書いた追加ルール（例: "email", "oneof=a b"）。
	Rule string
}

// Schema はルートごとのリクエストボディの構造。
type Schema struct {
	Fields []Field
}

const (
	dateRule = "datetime=2006-01-02"
	timeRule = "datetime=15:04"
)

var employmentTypes = "oneof=full_time part_time contract intern"

// schemas はルートごとの検証スキーマ。
var schemas = map[route.Route]*Schema{
	route.Login: {Fields: []Field{
		{Name: "email", Type: TypeString, Required: true, Rule: "email"},
		{Name: "password", Type: TypeString, Required: true, Rule: "min=6,max=128"},
	}},
	route.Employees: {Fields: []Field{
		{Name: "first_name", Type: TypeString, Required: true, Rule: "min=1,max=100"},
		{Name: "last_name", Type: TypeString, Required: true, Rule: "min=1,max=100"},
		{Name: "email", Type: TypeString, Required: true, Rule: "email"},
		{Name: "employment_type", Type: TypeString, Required: true, Rule: employmentTypes},
		{Name: "phone", Type: TypeString, Rule: "e164"},
		{Name: "department", Type: TypeString, Rule: "max=100"},
		{Name: "position", Type: TypeString, Rule: "max=100"},
		{Name: "hire_date", Type: TypeString, Rule: dateRule},
		{Name: "salary", Type: TypeNumber, Rule: "gte=0"},
	}},
	route.Employee: {Fields: []Field{
		{Name: "first_name", Type: TypeString, Rule: "min=1,max=100"},
		{Name: "last_name", Type: TypeString, Rule: "min=1,max=100"},
		{Name: "email", Type: TypeString, Rule: "email"},
		{Name: "employment_type", Type: TypeString, Rule: employmentTypes},
		{Name: "phone", Type: TypeString, Rule: "e164"},
		{Name: "department", Type: TypeString, Rule: "max=100"},
		{Name: "position", Type: TypeString, Rule: "max=100"},
		{Name: "hire_date", Type: TypeString, Rule: dateRule},
		{Name: "salary", Type: TypeNumber, Rule: "gte=0"},
		{Name: "is_active", Type: TypeBoolean},
	}},
	route.Attendance: {Fields: []Field{
		{Name: "employee_id", Type: TypeString, Required: true, Rule: "uuid"},
		{Name: "date", Type: TypeString, Required: true, Rule: dateRule},
		{Name: "check_in", Type: TypeString, Rule: timeRule},
		{Name: "check_out", Type: TypeString, Rule: timeRule},
		{Name: "status", Type: TypeString, Required: true, Rule: "oneof=present absent late half_day on_leave"},
		{Name: "notes", Type: TypeString, Rule: "max=500"},
	}},
	route.AttendanceRecord: {Fields: []Field{
		{Name: "check_in", Type: TypeString, Rule: timeRule},
		{Name: "check_out", Type: TypeString, Rule: timeRule},
		{Name: "status", Type: TypeString, Rule: "oneof=present absent late half_day on_leave"},
		{Name: "notes", Type: TypeString, Rule: "max=500"},
	}},
	route.LeaveRequests: {Fields: []Field{
		{Name: "employee_id", Type: TypeString, Required: true, Rule: "uuid"},
		{Name: "leave_type", Type: TypeString, Required: true, Rule: "oneof=annual sick personal maternity paternity unpaid"},
		{Name: "start_date", Type: TypeString, Required: true, Rule: dateRule},
		{Name: "end_date", Type: TypeString, Required: true, Rule: dateRule},
		{Name: "reason", Type: TypeString, Rule: "max=1000"},
	}},
	route.LeaveRequest: {Fields: []Field{
		{Name: "status", Type: TypeString, Required: true, Rule: "oneof=pending approved rejected"},
		{Name: "review_comment", Type: TypeString, Rule: "max=1000"},
	}},
	route.Payroll: {Fields: []Field{
		{Name: "employee_id", Type: TypeString, Required: true, Rule: "uuid"},
		{Name: "period_start", Type: TypeString, Required: true, Rule: dateRule},
		{Name: "period_end", Type: TypeString, Required: true, Rule: dateRule},
		{Name: "basic_salary", Type: TypeNumber, Required: true, Rule: "gte=0"},
		{Name: "allowances", Type: TypeNumber, Rule: "gte=0"},
		{Name: "deductions", Type: TypeNumber, Rule: "gte=0"},
		{Name: "working_days", Type: TypeInteger, Rule: "gte=0,lte=31"},
	}},
	route.PayrollRecord: {Fields: []Field{
		{Name: "status", Type: TypeString, Rule: "oneof=draft approved paid"},
		{Name: "allowances", Type: TypeNumber, Rule: "gte=0"},
		{Name: "deductions", Type: TypeNumber, Rule: "gte=0"},
	}},
}

// unvalidated はボディの形の確認をハンドラに任せるルート。
var unvalidated = map[route.Route]struct{}{
	route.Health:    {},
	route.Metrics:   {},
	route.Me:        {},
	route.AuditLogs: {},
}
