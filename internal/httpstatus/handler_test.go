package httpstatus

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shardroute/dbproxy/internal/runtime"
	"github.com/shardroute/dbproxy/internal/topocache"
)

func emptyCache() *topocache.Cache {
	return topocache.New(topocache.Config{}, nil, nil, runtime.SystemClock{})
}

func TestServeMonitorReportsLevelAndMessages(t *testing.T) {
	re := require.New(t)
	reporter := &Reporter{
		Cache:            newTestCache(t),
		Resolver:         fakeResolver{},
		Clock:            runtime.SystemClock{},
		MonitorNoPrimary: time.Minute,
	}
	handler := NewHandler(reporter)

	req := httptest.NewRequest(http.MethodGet, "/monitor", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	re.Equal(http.StatusOK, rec.Code)
	re.Contains(rec.Body.String(), "CRITICAL")
}

func TestServeStatusPageRendersShardTable(t *testing.T) {
	re := require.New(t)
	reporter := &Reporter{
		Cache:    newTestCache(t),
		Resolver: fakeResolver{},
		Clock:    runtime.SystemClock{},
	}
	handler := NewHandler(reporter)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	re.Equal(http.StatusOK, rec.Code)
	re.Contains(rec.Body.String(), "shard0")
	re.Contains(rec.Body.String(), "host1:27017")
}

func TestServeStatusPageServiceUnavailableWithNoConfig(t *testing.T) {
	re := require.New(t)
	reporter := &Reporter{
		Cache:    emptyCache(),
		Resolver: fakeResolver{},
		Clock:    runtime.SystemClock{},
	}
	handler := NewHandler(reporter)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	re.Equal(http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	re := require.New(t)
	handler := NewHandler(&Reporter{Cache: emptyCache(), Resolver: fakeResolver{}, Clock: runtime.SystemClock{}})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	re.Equal(http.StatusNotFound, rec.Code)
}

