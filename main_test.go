package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/bavit-uk/mailcore/internal/config"
	"github.com/bavit-uk/mailcore/internal/providers/inbound"
	"github.com/bavit-uk/mailcore/internal/storage/sqlite"
	"github.com/bavit-uk/mailcore/internal/sync"
	"github.com/bavit-uk/mailcore/internal/syncstate"
	"github.com/bavit-uk/mailcore/internal/threadcache"
	"github.com/bavit-uk/mailcore/internal/threadid"
	"github.com/bavit-uk/mailcore/internal/unified"
)

func newTestRouter(t *testing.T) (*sqlite.Store, *threadcache.Cache, http.Handler) {
	t.Helper()
	store, err := sqlite.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := zap.NewNop()
	cache := threadcache.New(0)
	cursors := syncstate.New(store, log)
	resolver := threadid.New(store, cache, log)
	buffer := inbound.NewBuffer(0)
	manager := sync.NewManager(store, cursors, resolver, cache, nil, log)

	router := newRouter(config.Default(), log, store, manager, buffer, cursors, cache, nil)
	return store, cache, router
}

func TestThreadEndpointServesCachedView(t *testing.T) {
	_, cache, router := newTestRouter(t)

	// Present only in the cache; a storage-only read path would 404
	cache.PutThread(&unified.UnifiedThread{
		ThreadID:     "t_cached",
		Subject:      "Quarterly numbers",
		MessageCount: 2,
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads/t_cached", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /threads/t_cached = %d, want 200", rec.Code)
	}
}

func TestThreadEndpointFillsCacheFromStorage(t *testing.T) {
	store, cache, router := newTestRouter(t)

	thread := &unified.UnifiedThread{
		ThreadID:     "t_stored",
		Subject:      "Shipping update",
		MessageCount: 1,
	}
	if err := store.UpsertThread(context.Background(), thread); err != nil {
		t.Fatalf("upsert thread: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads/t_stored", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /threads/t_stored = %d, want 200", rec.Code)
	}

	if _, ok := cache.Thread("t_stored"); !ok {
		t.Error("thread not cached after a storage read")
	}
}

func TestThreadEndpointUnknownID(t *testing.T) {
	_, _, router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/threads/t_missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET /threads/t_missing = %d, want 404", rec.Code)
	}
}
