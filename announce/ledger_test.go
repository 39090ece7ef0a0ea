package announce

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestLedgerClaim(t *testing.T) {
	store := newMemStore()
	store.watch("G", "c")
	store.announced["G"]["old"] = struct{}{}
	l := NewLedger(store)
	ctx := context.Background()

	tests := []struct {
		guild, id string
		want      bool
	}{
		{"G", "old", false},
		{"G", "new", true},
		{"G", "new", false},
		{"H", "new", true},
	}
	for _, tt := range tests {
		got, err := l.Claim(ctx, tt.guild, tt.id)
		if err != nil || got != tt.want {
			t.Errorf("Claim(%s, %s) = %v, %v; want %v", tt.guild, tt.id, got, err, tt.want)
		}
	}
	if l.Pending() != 2 {
		t.Errorf("pending = %d, want 2", l.Pending())
	}
	n, err := l.Flush(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Flush = %d, %v", n, err)
	}
	if l.Pending() != 0 {
		t.Error("pending not cleared after flush")
	}
	if n, _ := l.Flush(ctx); n != 0 {
		t.Errorf("second flush wrote %d ids", n)
	}
}

func TestLedgerConcurrentClaims(t *testing.T) {
	l := NewLedger(newMemStore())
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.Claim(context.Background(), "G", "s1")
			if err != nil {
				t.Error(err)
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if winners.Load() != 1 {
		t.Fatalf("%d goroutines claimed the same id, want 1", winners.Load())
	}
}

func TestLedgerLoadFailureIsRetried(t *testing.T) {
	store := newMemStore()
	store.failLoad["G"] = true
	l := NewLedger(store)
	ctx := context.Background()

	if _, err := l.Claim(ctx, "G", "s1"); err == nil {
		t.Fatal("expected load error")
	}
	store.mu.Lock()
	store.failLoad["G"] = false
	store.announced["G"] = map[string]struct{}{"s1": {}}
	store.mu.Unlock()

	ok, err := l.Claim(ctx, "G", "s1")
	if err != nil || ok {
		t.Fatalf("Claim after recovery = %v, %v; want false, nil", ok, err)
	}
}
