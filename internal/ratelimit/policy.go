package ratelimit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultKey はポリシー表の既定エントリのキー。
const DefaultKey = "default"

// Policy はルートごとのレート制限設定。
type Policy struct {
	// MaxRequests はウィンドウ内で許可するリクエスト数。
	MaxRequests int
	// Window は固定ウィンドウの長さ。
	Window time.Duration
}

// validate はポリシーの値が正であることを確認する。
func (p Policy) validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max_requestsは正の値である必要があります: %d", p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("windowは正の値である必要があります: %s", p.Window)
	}
	return nil
}

// prefixPolicy はパス接頭辞とポリシーの組。
type prefixPolicy struct {
	prefix string
	policy Policy
}

// PolicyTable はルート接頭辞からポリシーを引く静的な表。
// 最長一致の接頭辞が選ばれ、一致しなければ既定ポリシーを返すため、
// どのルートもちょうど1つのポリシーに解決される。
type PolicyTable struct {
	def      Policy
	prefixes []prefixPolicy
}

// NewPolicyTable は接頭辞→ポリシーの対応からPolicyTableを生成する。
// DefaultKeyのエントリは必須。
func NewPolicyTable(policies map[string]Policy) (*PolicyTable, error) {
	def, ok := policies[DefaultKey]
	if !ok {
		return nil, fmt.Errorf("ポリシー表に %q エントリがありません", DefaultKey)
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("%s ポリシーが不正: %w", DefaultKey, err)
	}

	t := &PolicyTable{def: def}
	seen := make(map[string]string, len(policies))
	for prefix, p := range policies {
		if prefix == DefaultKey {
			continue
		}
		if !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("接頭辞は / で始まる必要があります: %q", prefix)
		}
		normalized := NormalizePrefix(prefix)
		if normalized == "" {
			return nil, fmt.Errorf("接頭辞 %q はすべてのパスに一致します。%q エントリを使ってください", prefix, DefaultKey)
		}
		if other, dup := seen[normalized]; dup {
			return nil, fmt.Errorf("接頭辞 %q と %q が重複しています", other, prefix)
		}
		seen[normalized] = prefix
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("%s ポリシーが不正: %w", prefix, err)
		}
		t.prefixes = append(t.prefixes, prefixPolicy{prefix: normalized, policy: p})
	}

	// 長い接頭辞を先に評価する。同じ長さなら辞書順で決定的にする
	sort.Slice(t.prefixes, func(i, j int) bool {
		if len(t.prefixes[i].prefix) != len(t.prefixes[j].prefix) {
			return len(t.prefixes[i].prefix) > len(t.prefixes[j].prefix)
		}
		return t.prefixes[i].prefix < t.prefixes[j].prefix
	})
	return t, nil
}

// NormalizePrefix は接頭辞の末尾のスラッシュを取り除く。
func NormalizePrefix(prefix string) string {
	return strings.TrimRight(prefix, "/")
}

// DefaultPolicies は設定ファイルが無い場合に使う既定のポリシー表を返す。
func DefaultPolicies() *PolicyTable {
	t, err := NewPolicyTable(DefaultPolicyMap())
	if err != nil {
		panic(err)
	}
	return t
}

// DefaultPolicyMap は既定のポリシー定義を返す。
func DefaultPolicyMap() map[string]Policy {
	return map[string]Policy{
		DefaultKey:        {MaxRequests: 100, Window: time.Minute},
		"/api/auth/login": {MaxRequests: 5, Window: time.Minute},
		"/api/payroll":    {MaxRequests: 30, Window: time.Minute},
		"/api/employees":  {MaxRequests: 60, Window: time.Minute},
	}
}

// Resolve は正規化済みのパスに適用するポリシーを返す。
func (t *PolicyTable) Resolve(path string) Policy {
	for _, pp := range t.prefixes {
		if path == pp.prefix || strings.HasPrefix(path, pp.prefix+"/") {
			return pp.policy
		}
	}
	return t.def
}

// Default は既定ポリシーを返す。
func (t *PolicyTable) Default() Policy {
	return t.def
}
