package rates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/sendflow/internal/httpx"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := OpenStore(filepath.Join(tmp, "rates.db"), filepath.Join(tmp, "rates.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreFreshStaleAndTooStale(t *testing.T) {
	store := openStore(t)
	rate := decimal.RequireFromString("0.81")

	require.NoError(t, store.Put("xtz/usd", rate, time.Minute))
	entry, ok, err := store.Get("xtz/usd", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, entry.Stale)
	assert.True(t, entry.Rate.Equal(rate))

	require.NoError(t, store.put("xtz/usd", rate, time.Minute, time.Now().Add(-90*time.Second)))
	entry, _, err = store.Get("xtz/usd", time.Minute)
	require.NoError(t, err)
	assert.True(t, entry.Stale)
	assert.False(t, entry.TooStale)

	entry, _, err = store.Get("xtz/usd", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, entry.TooStale)

	_, ok, err = store.Get("eth/usd", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreConcurrentOpenAndPut(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "rates.db")
	lockPath := filepath.Join(tmp, "rates.lock")

	var wg sync.WaitGroup
	errCh := make(chan error, 8)
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			store, err := OpenStore(dbPath, lockPath)
			if err != nil {
				errCh <- err
				return
			}
			defer store.Close()
			for i := 0; i < 20; i++ {
				pair := fmt.Sprintf("p%d/%d", id, i)
				if err := store.Put(pair, decimal.NewFromInt(int64(i+1)), time.Minute); err != nil {
					errCh <- err
					return
				}
				if _, ok, err := store.Get(pair, time.Minute); err != nil || !ok {
					errCh <- fmt.Errorf("worker %d miss %s: %v", id, pair, err)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}

func TestSourceCachesAndFallsBackToStale(t *testing.T) {
	var calls int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"rate":"0.92"}`))
	}))
	defer srv.Close()

	store := openStore(t)
	src := NewSource(Config{URL: srv.URL, TTL: time.Minute, MaxStale: time.Hour}, httpx.New(time.Second, 0), store, nil)

	got, err := src.Rate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.92", got.String())
	_, err = src.Rate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	require.NoError(t, store.put("xtz/usd", got, time.Minute, time.Now().Add(-2*time.Minute)))
	fail.Store(true)
	got, err = src.Rate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.92", got.String())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSourceWithoutCacheOrURL(t *testing.T) {
	src := NewSource(Config{}, httpx.New(time.Second, 0), nil, nil)
	_, err := src.Rate(context.Background())
	require.Error(t, err)
}

func TestSourceRejectsNonPositiveRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"rate":0}`))
	}))
	defer srv.Close()
	src := NewSource(Config{URL: srv.URL}, httpx.New(time.Second, 0), nil, nil)
	_, err := src.Rate(context.Background())
	require.Error(t, err)
}
