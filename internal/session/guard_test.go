package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inktrail/internal/domain"
	"inktrail/internal/fault"
)

type stubIdentity struct {
	calls   int32
	release chan struct{}
	err     error
}

func (s *stubIdentity) ValidateAccessToken(token string) (domain.User, error) {
	return domain.User{}, errors.New("not used")
}

func (s *stubIdentity) Refresh(ctx context.Context, refreshToken string) (domain.User, TokenPair, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return domain.User{}, TokenPair{}, s.err
	}
	return domain.User{ID: "u-1", Name: "Ada", Email: "ada@example.com"},
		TokenPair{AccessToken: "access-new", RefreshToken: "refresh-new"}, nil
}

func TestRefreshWithLockDeduplicates(t *testing.T) {
	id := &stubIdentity{release: make(chan struct{})}
	guard := NewGuard(id, 50*time.Millisecond, time.Second)

	const concurrent = 5
	var wg sync.WaitGroup
	results := make([]RefreshResult, concurrent)
	errs := make([]error, concurrent)
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = guard.RefreshWithLock(context.Background(), "shared-refresh-token")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(id.release)
	wg.Wait()

	if got := atomic.LoadInt32(&id.calls); got != 1 {
		t.Fatalf("expected exactly 1 upstream refresh, got %d", got)
	}
	for i := 0; i < concurrent; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if results[i].User.ID != "u-1" || results[i].Tokens.AccessToken != "access-new" {
			t.Fatalf("waiter %d got diverging result: %+v", i, results[i])
		}
	}
}

func TestRefreshWithLockSharesFailure(t *testing.T) {
	id := &stubIdentity{err: fault.SessionExpired("session expired"), release: make(chan struct{})}
	guard := NewGuard(id, 50*time.Millisecond, time.Second)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = guard.RefreshWithLock(context.Background(), "shared-refresh-token")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(id.release)
	wg.Wait()

	if got := atomic.LoadInt32(&id.calls); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
	for i, err := range errs {
		if !fault.IsKind(err, fault.KindSessionExpired) {
			t.Fatalf("waiter %d: expected session_expired, got %v", i, err)
		}
	}
}

func TestRefreshWithLockWrapsUpstreamFailure(t *testing.T) {
	id := &stubIdentity{err: errors.New("connection reset")}
	guard := NewGuard(id, 50*time.Millisecond, time.Second)
	_, err := guard.RefreshWithLock(context.Background(), "tok")
	if !fault.IsKind(err, fault.KindSessionExpired) {
		t.Fatalf("expected session_expired wrapping, got %v", err)
	}
}

func TestDifferentTokensRefreshIndependently(t *testing.T) {
	id := &stubIdentity{}
	guard := NewGuard(id, 50*time.Millisecond, time.Second)
	if _, err := guard.RefreshWithLock(context.Background(), "token-aaaaaaaaaaaa"); err != nil {
		t.Fatal(err)
	}
	if _, err := guard.RefreshWithLock(context.Background(), "token-bbbbbbbbbbbb"); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&id.calls); got != 2 {
		t.Fatalf("expected 2 upstream calls for distinct tokens, got %d", got)
	}
}
