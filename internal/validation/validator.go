// Package validation はルートごとのスキーマでリクエストボディを検証する。
//
// スキーマが定義されていないルートは「不正」ではなく「パススルー」として扱う。
// フィールドの違反は最初の1件で打ち切らず、すべて集めて返す。
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nao1215/hrgate/internal/apperr"
	"github.com/nao1215/hrgate/internal/route"
)

// Result は検証結果。
type Result struct {
	// OK は違反が無いかどうか。
	OK bool
	// Errors はフィールド単位の違反メッセージ。
	Errors []string
	// Data は解析済みのボディ。パススルー時はnil。
	Data map[string]any
	// Checked はスキーマに基づいて検証したかどうか。falseならパススルー。
	Checked bool
	// Delegated はボディの形の確認をハンドラに任せるルートかどうか。
	// Checked=false かつ Delegated=false ならスキーマが未定義のルート。
	Delegated bool
}

// Validator はスキーマ表とフィールドルールの評価器を保持する。
type Validator struct {
	rules   *validator.Validate
	schemas map[route.Route]*Schema
}

// New は既定のスキーマ表を使うValidatorを生成する。
func New() *Validator {
	return &Validator{
		rules:   validator.New(validator.WithRequiredStructEnabled()),
		schemas: schemas,
	}
}

// Validate はパスを正規化してスキーマを引き、ボディを検証する。
func (v *Validator) Validate(path string, body []byte) (Result, error) {
	return v.ValidateRoute(route.Match(path), body)
}

// ValidateRoute は解決済みのルートでボディを検証する。
// ボディがJSONオブジェクトとして解析できない場合はMalformedBodyエラーを返す。
func (v *Validator) ValidateRoute(r route.Route, body []byte) (Result, error) {
	schema, ok := v.schemas[r]
	if !ok {
		_, delegated := unvalidated[r]
		return Result{OK: true, Delegated: delegated}, nil
	}

	data, err := decodeObject(body)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.KindMalformedBody, err, "")
	}

	var violations []string
	for _, f := range schema.Fields {
		value, present := data[f.Name]
		if !present || value == nil {
			if f.Required {
				violations = append(violations, fmt.Sprintf("%s: 必須項目です", f.Name))
			}
			continue
		}
		if !matchesType(value, f.Type) {
			violations = append(violations, fmt.Sprintf("%s: %s 型である必要があります", f.Name, f.Type))
			continue
		}
		if f.Rule == "" {
			continue
		}
		if msg := v.checkRule(value, f.Rule); msg != "" {
			violations = append(violations, fmt.Sprintf("%s: %s", f.Name, msg))
		}
	}

	return Result{
		OK:      len(violations) == 0,
		Errors:  violations,
		Data:    data,
		Checked: true,
	}, nil
}

// decodeObject はボディをJSONオブジェクトとして解析する。
func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("リクエストボディが空です")
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("JSONの解析に失敗: %w", err)
	}
	if data == nil {
		return nil, errors.New("リクエストボディがJSONオブジェクトではありません")
	}
	return data, nil
}

// matchesType はJSONから復元した値が期待する型かどうかを返す。
func matchesType(value any, t FieldType) bool {
	switch t {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := value.(float64)
		return ok
	case TypeInteger:
		n, ok := value.(float64)
		return ok && n == math.Trunc(n)
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

// checkRule はvalidatorのタグでフィールド値を検証し、違反時のメッセージを返す。
func (v *Validator) checkRule(value any, rule string) string {
	err := v.rules.Var(value, rule)
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("ルール %q を評価できません", rule)
	}
	return describe(verrs[0])
}

// describe はvalidatorのエラーを日本語のメッセージに変換する。
func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "email":
		return "メールアドレスの形式が不正です"
	case "e164":
		return "電話番号はE.164形式で入力してください"
	case "uuid":
		return "UUID形式である必要があります"
	case "oneof":
		return "次のいずれかである必要があります: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "datetime":
		return fmt.Sprintf("日時の形式が不正です（%s）", fe.Param())
	case "min":
		return fmt.Sprintf("%s 文字以上である必要があります", fe.Param())
	case "max":
		return fmt.Sprintf("%s 文字以下である必要があります", fe.Param())
	case "gte":
		return fmt.Sprintf("%s 以上である必要があります", fe.Param())
	case "lte":
		return fmt.Sprintf("%s 以下である必要があります", fe.Param())
	default:
		return fmt.Sprintf("ルール %s に違反しています", fe.Tag())
	}
}
