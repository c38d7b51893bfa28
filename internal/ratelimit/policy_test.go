package ratelimit

import (
	"testing"
	"time"
)

// TestNewPolicyTable はポリシー表の構築時の検証を確認する。
func TestNewPolicyTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policies map[string]Policy
		wantErr  bool
	}{
		{
			name:     "defaultがあれば成功すること",
			policies: map[string]Policy{DefaultKey: {MaxRequests: 1, Window: time.Second}},
		},
		{
			name:     "defaultが無ければ失敗すること",
			policies: map[string]Policy{"/api": {MaxRequests: 1, Window: time.Second}},
			wantErr:  true,
		},
		{
			name: "上限が0なら失敗すること",
			policies: map[string]Policy{
				DefaultKey: {MaxRequests: 1, Window: time.Second},
				"/api":     {MaxRequests: 0, Window: time.Second},
			},
			wantErr: true,
		},
		{
			name:     "ウィンドウが0なら失敗すること",
			policies: map[string]Policy{DefaultKey: {MaxRequests: 1}},
			wantErr:  true,
		},
		{
			name: "スラッシュで始まらない接頭辞は失敗すること",
			policies: map[string]Policy{
				DefaultKey: {MaxRequests: 1, Window: time.Second},
				"api":      {MaxRequests: 1, Window: time.Second},
			},
			wantErr: true,
		},
		{
			name: "末尾のスラッシュだけが違う接頭辞は重複として失敗すること",
			policies: map[string]Policy{
				DefaultKey: {MaxRequests: 1, Window: time.Second},
				"/api":     {MaxRequests: 1, Window: time.Second},
				"/api/":    {MaxRequests: 2, Window: time.Second},
			},
			wantErr: true,
		},
		{
			name: "ルートだけの接頭辞は失敗すること",
			policies: map[string]Policy{
				DefaultKey: {MaxRequests: 1, Window: time.Second},
				"/":        {MaxRequests: 1, Window: time.Second},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPolicyTable(tt.policies)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestPolicyTableResolve は最長一致でのポリシー解決を検証する。
func TestPolicyTableResolve(t *testing.T) {
	t.Parallel()

	table, err := NewPolicyTable(map[string]Policy{
		DefaultKey:            {MaxRequests: 100, Window: time.Minute},
		"/api":                {MaxRequests: 50, Window: time.Minute},
		"/api/employees":      {MaxRequests: 20, Window: time.Minute},
		"/api/employees/{id}": {MaxRequests: 10, Window: time.Minute},
	})
	if err != nil {
		t.Fatalf("NewPolicyTable()でエラーが発生: %v", err)
	}

	tests := []struct {
		path string
		want int
	}{
		{path: "/api/employees/{id}", want: 10},
		{path: "/api/employees", want: 20},
		{path: "/api/payroll", want: 50},
		{path: "/api/employeesx", want: 50},
		{path: "/health", want: 100},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			if got := table.Resolve(tt.path).MaxRequests; got != tt.want {
				t.Errorf("Resolve(%q).MaxRequests = %d, want %d", tt.path, got, tt.want)
			}
		})
	}

	if table.Default().MaxRequests != 100 {
		t.Errorf("Default().MaxRequests = %d, want 100", table.Default().MaxRequests)
	}
}

// TestDefaultPolicies は既定ポリシー表を検証する。
func TestDefaultPolicies(t *testing.T) {
	t.Parallel()

	table := DefaultPolicies()
	if got := table.Resolve("/api/auth/login"); got.MaxRequests != 5 || got.Window != time.Minute {
		t.Errorf("login policy = %+v, want {5 1m}", got)
	}
}
