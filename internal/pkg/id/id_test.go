package id

import (
	"strings"
	"sync"
	"testing"
)

func TestCorrelation_Unique(t *testing.T) {
	const n = 500
	var mu sync.Mutex
	seen := make(map[string]struct{}, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := Correlation()
			mu.Lock()
			seen[c] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("got %d unique correlation ids, want %d", len(seen), n)
	}
	for c := range seen {
		if !strings.HasPrefix(c, "cor_") {
			t.Fatalf("correlation id %q missing prefix", c)
		}
		break
	}
}

func TestNew_Prefix(t *testing.T) {
	got := New("evt")
	if !strings.HasPrefix(got, "evt_") {
		t.Errorf("New(evt) = %q, want evt_ prefix", got)
	}
	if New("evt") == got {
		t.Error("New returned duplicate ids")
	}
}
