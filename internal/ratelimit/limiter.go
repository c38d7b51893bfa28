// Package ratelimit は (クライアント識別子, ルート) 単位の固定ウィンドウ・レート制限を提供する。
//
// カウンタはプロセス内のマップに保持し、1つのミューテックスで
// 判定・加算・置換・掃除を直列化する。分散環境での共有は扱わない。
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// defaultCleanupInterval は期限切れエントリを掃除する既定の間隔。
const defaultCleanupInterval = time.Minute

// Decision はレート制限の判定結果。
type Decision struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Limit はウィンドウ内の上限。
	Limit int
	// Remaining はウィンドウ内で残っているリクエスト数。
	Remaining int
	// ResetAt は現在のウィンドウが終わる時刻。
	ResetAt time.Time
	// RetryAfter は拒否時に再試行できるまでの時間。許可時は0。
	RetryAfter time.Duration
}

// entry は1つのキーに対するカウンタ。
type entry struct {
	count   int
	resetAt time.Time
}

// Service は固定ウィンドウ方式のレート制限サービス。
// 生成時に掃除用goroutineを起動し、Closeで停止する。
type Service struct {
	mu       sync.Mutex
	entries  map[string]*entry
	policies *PolicyTable
	now      func() time.Time
	interval time.Duration

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithClock は現在時刻の取得方法を差し替える。テストで使用する。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCleanupInterval は掃除の間隔を設定する。
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewService は新しいレート制限サービスを生成し、掃除ループを開始する。
func NewService(policies *PolicyTable, opts ...Option) *Service {
	if policies == nil {
		policies = DefaultPolicies()
	}
	s := &Service{
		entries:  make(map[string]*entry),
		policies: policies,
		now:      time.Now,
		interval: defaultCleanupInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.sweepLoop()
	return s
}

// Key はクライアント識別子とルートからカウンタのキーを組み立てる。
func Key(identity, route string) string {
	return identity + "|" + route
}

// Policy はルートに適用されるポリシーを返す。
func (s *Service) Policy(route string) Policy {
	return s.policies.Resolve(route)
}

// Allow は (identity, route) の1リクエストを判定する。
// ポリシーはこの呼び出しで1度だけ解決する。
func (s *Service) Allow(identity, route string) Decision {
	return s.AllowKey(Key(identity, route), s.policies.Resolve(route))
}

// AllowKey は解決済みのポリシーでキーを判定する。
// 拒否したリクエストはカウントしない。
func (s *Service) AllowKey(key string, policy Policy) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(policy.Window)}
		s.entries[key] = e
		return Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - 1,
			ResetAt:   e.resetAt,
		}
	}

	if e.count < policy.MaxRequests {
		e.count++
		return Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests - e.count,
			ResetAt:   e.resetAt,
		}
	}

	return Decision{
		Allowed:    false,
		Limit:      policy.MaxRequests,
		Remaining:  0,
		ResetAt:    e.resetAt,
		RetryAfter: e.resetAt.Sub(now),
	}
}

// Count はキーの現在のカウントを返す。エントリが無ければ0。
func (s *Service) Count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.count
	}
	return 0
}

// Len は保持しているエントリ数を返す。
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep はウィンドウが終了したエントリを削除し、削除した件数を返す。
func (s *Service) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// sweepLoop は一定間隔でSweepを呼び出す。
func (s *Service) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("[RateLimit] 期限切れエントリを %d 件削除しました", n)
			}
		}
	}
}

// Close は掃除ループを停止する。複数回呼び出しても安全。
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}
