package lifecycle

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

func TestEnvLocksSingleWinner(t *testing.T) {
	locks := NewEnvLocks()

	var wg sync.WaitGroup
	var acquired atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := locks.TryAcquire("env-1", "op"); err == nil {
				acquired.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := acquired.Load(); got != 1 {
		t.Fatalf("acquired = %d, want exactly 1", got)
	}
}

func TestEnvLocksRejectionNamesHolder(t *testing.T) {
	locks := NewEnvLocks()
	if err := locks.TryAcquire("env-1", "op-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	err := locks.TryAcquire("env-1", "op-b")
	if domain.ReasonOf(err) != domain.ReasonOperationInProgress {
		t.Fatalf("err = %v, want operation in progress", err)
	}
	if got, busy := locks.Holder("env-1"); !busy || got != "op-a" {
		t.Errorf("holder = %q (busy=%t), want op-a", got, busy)
	}

	// Other environments are independent.
	if err := locks.TryAcquire("env-2", "op-b"); err != nil {
		t.Errorf("different environment rejected: %v", err)
	}

	locks.Release("env-1")
	if err := locks.TryAcquire("env-1", "op-c"); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.1.0", "1.0.0", 1},
		{"1.0.0", "1.1.0", -1},
		{"2.0.0", "1.9.9", 1},
		{"1.0.10", "1.0.9", 1},
		{"v1.2.0", "1.1.0", 1},
		{"1.0", "1.0.0", 0},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
