package keylock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	m := New()
	var inside, maxInside int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.Lock(Key("emp-1", "2026-03-02"))
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max holders = %d, want 1", maxInside)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after all unlocks, want 0", m.Len())
	}
}

func TestLockDifferentKeysInParallel(t *testing.T) {
	m := New()
	unlockA := m.Lock(Key("emp-1", "2026-03-02"))
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := m.Lock(Key("emp-1", "2026-03-03"))
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
