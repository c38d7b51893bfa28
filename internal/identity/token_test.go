package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret はテスト用のJWTシークレット。
const testSecret = "test-secret-key-for-unit-tests"

func TestIssuer_Issue(t *testing.T) {
	t.Parallel()

	t.Run("正常にトークンを生成できること", func(t *testing.T) {
		t.Parallel()

		issuer := NewIssuer(testSecret, 0)
		tokenStr, err := issuer.Issue("user-123", "test@example.com")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
			return []byte(testSecret), nil
		})
		if err != nil {
			t.Fatalf("トークンのパースに失敗: %v", err)
		}
		if !token.Valid {
			t.Fatal("トークンが無効")
		}
		if claims.Subject != "user-123" {
			t.Errorf("Subject = %q, want %q", claims.Subject, "user-123")
		}
		if claims.Email != "test@example.com" {
			t.Errorf("Email = %q, want %q", claims.Email, "test@example.com")
		}
		if claims.Issuer != "hrgate" {
			t.Errorf("Issuer = %q, want %q", claims.Issuer, "hrgate")
		}
	})

	t.Run("有効期限がTTL後であること", func(t *testing.T) {
		t.Parallel()

		issuer := NewIssuer(testSecret, time.Hour)
		before := time.Now()
		tokenStr, err := issuer.Issue("user-exp", "exp@example.com")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		claims, err := issuer.Verify(tokenStr)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}

		want := before.Add(time.Hour)
		if claims.ExpiresAt.Time.Before(want.Add(-time.Minute)) || claims.ExpiresAt.Time.After(want.Add(time.Minute)) {
			t.Errorf("ExpiresAt = %v, want およそ %v", claims.ExpiresAt.Time, want)
		}
	})

	t.Run("ユーザーIDが空の場合エラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewIssuer(testSecret, 0).Issue("", "a@example.com"); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})
}

func TestIssuer_Verify(t *testing.T) {
	t.Parallel()

	t.Run("別のシークレットで署名されたトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		tokenStr, err := NewIssuer("other-secret", 0).Issue("user-1", "a@example.com")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		if _, err := NewIssuer(testSecret, 0).Verify(tokenStr); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})

	t.Run("期限切れのトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		issuer := NewIssuer(testSecret, time.Minute)
		issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
		tokenStr, err := issuer.Issue("user-1", "a@example.com")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}
		if _, err := NewIssuer(testSecret, 0).Verify(tokenStr); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})

	t.Run("HS256以外のアルゴリズムを拒否すること", func(t *testing.T) {
		t.Parallel()

		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "hrgate",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		if _, err := NewIssuer(testSecret, 0).Verify(tokenStr); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})

	t.Run("発行者が異なるトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("署名に失敗: %v", err)
		}
		if _, err := NewIssuer(testSecret, 0).Verify(tokenStr); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})

	t.Run("不正な形式のトークンを拒否すること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewIssuer(testSecret, 0).Verify("not-a-jwt"); err == nil {
			t.Fatal("エラーが返されるべき")
		}
	})
}
