// internal/rules/cache_test.go
package rules

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/solatis/rulefilter/internal/provider"
	"github.com/solatis/rulefilter/internal/types"
)

func TestPredicateCache_SingleFlight(t *testing.T) {
	c, err := NewPredicateCache(8)
	if err != nil {
		t.Fatalf("NewPredicateCache() error = %v", err)
	}

	release := make(chan struct{})
	var calls atomic.Int32
	compile := func() (*provider.Predicate, error) {
		calls.Add(1)
		<-release
		return &provider.Predicate{Target: provider.MemoryTarget}, nil
	}

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*provider.Predicate, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, _, err := c.GetOrCompile("k", compile)
			if err != nil {
				t.Errorf("GetOrCompile() error = %v", err)
			}
			results[i] = p
		}(i)
	}
	// let the workers pile up behind the first compilation
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("compile calls = %d, want 1", n)
	}
	for i, p := range results {
		if p != results[0] {
			t.Errorf("worker %d got a different predicate", i)
		}
	}

	_, hit, err := c.GetOrCompile("k", compile)
	if err != nil || !hit {
		t.Errorf("GetOrCompile() hit = %v, err = %v, want cached hit", hit, err)
	}
}

func TestPredicateCache_ErrorsAreNotCached(t *testing.T) {
	c, _ := NewPredicateCache(8)
	boom := errors.New("boom")

	if _, _, err := c.GetOrCompile("k", func() (*provider.Predicate, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrCompile() error = %v, want boom", err)
	}
	p, hit, err := c.GetOrCompile("k", func() (*provider.Predicate, error) { return &provider.Predicate{}, nil })
	if err != nil || hit || p == nil {
		t.Errorf("GetOrCompile() after failure = %v, %v, %v; want fresh compile", p, hit, err)
	}
	if c.Compiles() != 2 {
		t.Errorf("Compiles() = %d, want 2", c.Compiles())
	}
}

func TestPredicateCache_KeyAndInvalidate(t *testing.T) {
	rs := newRuleSet("rs-1", "Cart", types.LogicalAnd)
	mem := CacheKey(rs, provider.MemoryTarget)
	sql := CacheKey(rs, provider.Target{Kind: provider.SQL, Dialect: provider.DialectSQLite})
	if mem == sql {
		t.Fatalf("CacheKey() equal for different targets: %s", mem)
	}

	edited := *rs
	edited.UpdatedOnUtc = rs.UpdatedOnUtc.Add(time.Second)
	if CacheKey(&edited, provider.MemoryTarget) == mem {
		t.Error("CacheKey() unchanged after UpdatedOnUtc moved")
	}

	c, _ := NewPredicateCache(8)
	compile := func() (*provider.Predicate, error) { return &provider.Predicate{}, nil }
	c.GetOrCompile(mem, compile)
	c.GetOrCompile(sql, compile)
	c.GetOrCompile("rs-10|0|memory", compile)

	if n := c.Invalidate("rs-1"); n != 2 {
		t.Errorf("Invalidate() = %d, want 2", n)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (rs-10 untouched)", c.Len())
	}
}

func TestPredicateCache_Evicts(t *testing.T) {
	c, _ := NewPredicateCache(2)
	compile := func() (*provider.Predicate, error) { return &provider.Predicate{}, nil }
	for _, k := range []string{"a", "b", "c"} {
		c.GetOrCompile(k, compile)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
	if _, hit, _ := c.GetOrCompile("a", compile); hit {
		t.Error("least recently used entry was not evicted")
	}
}
