package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	pkgredis "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/resilience"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	down bool
	gets atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

var errDown = errors.New("connection refused")

func (f *fakeBackend) Get(_ context.Context, key string) (string, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return "", errDown
	}
	v, ok := f.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	f.data[key] = string(value.([]byte))
	f.ttls[key] = ttl
	return nil
}

func (f *fakeBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func result(q string) *executor.SearchResult {
	return &executor.SearchResult{
		Query:     q,
		TotalHits: 1,
		Results:   []executor.Hit{{DocumentID: "a", Score: 1.5, Snippet: "[x]"}},
	}
}

func TestGetOrComputeStoresAndReuses(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, config.RedisConfig{CacheTTL: time.Minute}, nil)
	ctx := context.Background()

	calls := 0
	compute := func() (*executor.SearchResult, error) {
		calls++
		return result("x"), nil
	}

	r, hit, err := c.GetOrCompute(ctx, "gen=1|q=x", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "x", r.Query)

	r, hit, err = c.GetOrCompute(ctx, "gen=1|q=x", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "a", r.Results[0].DocumentID)
	assert.Equal(t, 1, calls)

	for k, ttl := range backend.ttls {
		assert.True(t, strings.HasPrefix(k, keyPrefix))
		assert.Equal(t, time.Minute, ttl)
	}

	_, hit, err = c.GetOrCompute(ctx, "gen=2|q=x", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, calls)

	hits, misses := c.Stats()
	assert.EqualValues(t, 1, hits)
	assert.Positive(t, misses)
}

func TestComputeErrorIsNotCached(t *testing.T) {
	c := New(newFakeBackend(), config.RedisConfig{}, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), "k", func() (*executor.SearchResult, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)

	r, hit, err := c.GetOrCompute(context.Background(), "k", func() (*executor.SearchResult, error) { return result("k"), nil })
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "k", r.Query)
}

func TestConcurrentMissesComputeOnce(t *testing.T) {
	c := New(newFakeBackend(), config.RedisConfig{}, nil)
	var calls atomic.Int64
	release := make(chan struct{})
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		<-release
		return result("q"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrCompute(context.Background(), "same", compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int64(2))
}

func TestBackendOutageOpensBreaker(t *testing.T) {
	backend := newFakeBackend()
	backend.down = true
	c := New(backend, config.RedisConfig{}, nil)

	for i := 0; i < 10; i++ {
		r, hit, err := c.GetOrCompute(context.Background(), "k", func() (*executor.SearchResult, error) { return result("k"), nil })
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "k", r.Query)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())

	before := backend.gets.Load()
	c.Get(context.Background(), "k")
	assert.Equal(t, before, backend.gets.Load())
}

func TestInvalidate(t *testing.T) {
	backend := newFakeBackend()
	backend.data["unrelated"] = "1"
	c := New(backend, config.RedisConfig{}, nil)
	c.Set(context.Background(), "a", result("a"))
	c.Set(context.Background(), "b", result("b"))

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Len(t, backend.data, 1)
}
