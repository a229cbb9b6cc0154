package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupSharesSingleCall(t *testing.T) {
	g := NewGroup[int](50*time.Millisecond, time.Second)
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 10)
	leaders := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, led, err := g.Do(context.Background(), "key", func() (int, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return 42, nil
			})
			if err != nil {
				t.Errorf("do: %v", err)
			}
			results[i] = v
			leaders[i] = led
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
	leaderCount := 0
	for i := range results {
		if results[i] != 42 {
			t.Fatalf("waiter %d got %d", i, results[i])
		}
		if leaders[i] {
			leaderCount++
		}
	}
	if leaderCount != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaderCount)
	}
}

func TestGroupSharesFailure(t *testing.T) {
	g := NewGroup[string](50*time.Millisecond, time.Second)
	boom := errors.New("upstream down")
	release := make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = g.Do(context.Background(), "key", func() (string, error) {
				<-release
				return "", boom
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Fatalf("waiter %d: expected shared failure, got %v", i, err)
		}
	}
}

func TestGroupEntryExpiresAfterGrace(t *testing.T) {
	g := NewGroup[int](10*time.Millisecond, time.Second)
	if _, _, err := g.Do(context.Background(), "key", func() (int, error) { return 1, nil }); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for g.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("entry not removed after grace window")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// a new call for the same key runs again
	v, led, err := g.Do(context.Background(), "key", func() (int, error) { return 2, nil })
	if err != nil || v != 2 || !led {
		t.Fatalf("expected fresh leader call, got v=%d led=%v err=%v", v, led, err)
	}
}

func TestGroupSweepsStaleEntries(t *testing.T) {
	g := NewGroup[int](time.Hour, 30*time.Millisecond)
	// Simulate a crashed leader: register an entry that never completes.
	g.mu.Lock()
	g.calls["stuck"] = &call[int]{done: make(chan struct{}), created: time.Now().Add(-time.Minute)}
	g.mu.Unlock()

	v, led, err := g.Do(context.Background(), "stuck", func() (int, error) { return 7, nil })
	if err != nil || !led || v != 7 {
		t.Fatalf("expected sweep to free the key: v=%d led=%v err=%v", v, led, err)
	}
}

func TestGroupContextCancel(t *testing.T) {
	g := NewGroup[int](50*time.Millisecond, time.Second)
	release := make(chan struct{})
	go g.Do(context.Background(), "key", func() (int, error) {
		<-release
		return 1, nil
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := g.Do(ctx, "key", func() (int, error) { return 2, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	close(release)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("doc-1")
			defer unlock()
			cur := atomic.AddInt32(&active, 1)
			for {
				prev := atomic.LoadInt32(&maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxActive, prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if atomic.LoadInt32(&maxActive) != 1 {
		t.Fatalf("expected serialized access, max concurrent was %d", maxActive)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on independent key blocked")
	}
	unlockA()
}
