package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/db"
	"github.com/suite224/suite-db/internal/logger"
	"github.com/suite224/suite-db/internal/metrics"
)

func TestMain(m *testing.M) {
	logger.InitWriter(logger.LevelError, io.Discard)
	os.Exit(m.Run())
}

type fakeProvider struct {
	pingErr error
	stat    db.PoolStat
}

func (f *fakeProvider) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeProvider) Stat() db.PoolStat              { return f.stat }
func (f *fakeProvider) Profile() config.ConnectionProfile {
	return config.ConnectionProfile{
		Environment: config.Production,
		Host:        "db.internal",
		Port:        5432,
		Database:    "suite224_production",
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		provider   *fakeProvider
		wantCode   int
		wantStatus string
	}{
		{
			name:       "healthy",
			provider:   &fakeProvider{stat: db.PoolStat{MaxConnections: 4, TotalConns: 1, IdleConns: 1}},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "saturated pool is degraded",
			provider:   &fakeProvider{stat: db.PoolStat{MaxConnections: 2, TotalConns: 2, InUse: 2, Waiting: 3}},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "exhausted ping is degraded",
			provider: &fakeProvider{
				pingErr: &db.PoolExhaustedError{MaxConnections: 2, Behavior: db.QueueFail},
				stat:    db.PoolStat{MaxConnections: 2},
			},
			wantCode:   http.StatusOK,
			wantStatus: StatusDegraded,
		},
		{
			name: "unreachable database",
			provider: &fakeProvider{
				pingErr: &db.ConnectionError{Kind: db.KindUnreachable, Err: errors.New("connection refused")},
				stat:    db.PoolStat{MaxConnections: 4},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
		{
			name:       "closed pool",
			provider:   &fakeProvider{stat: db.PoolStat{MaxConnections: 4, Closed: true}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{}, tt.provider)
			rec := get(t, s.Handler(), "/health")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, "production", resp.Environment)
			assert.Equal(t, "suite224_production", resp.Database)
			assert.Equal(t, "db.internal:5432", resp.Addr)
			assert.Contains(t, resp.Components, "postgresql")
			assert.Contains(t, resp.Components, "pool")
			assert.Equal(t, tt.provider.stat.MaxConnections, resp.Pool.MaxConnections)
		})
	}
}

func TestHealth_ReportsRecentWaits(t *testing.T) {
	recent := []time.Duration{3 * time.Millisecond, 40 * time.Millisecond}
	provider := &fakeProvider{stat: db.PoolStat{
		MaxConnections: 2,
		Wait:           metrics.WaitSnapshot{Count: 2, Max: 40 * time.Millisecond, Recent: recent},
	}}

	rec := get(t, NewServer(ServerConfig{}, provider).Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, recent, resp.Pool.Wait.Recent)
}

func TestReady(t *testing.T) {
	ok := NewServer(ServerConfig{}, &fakeProvider{stat: db.PoolStat{MaxConnections: 1}})
	for _, path := range []string{"/ready", "/readyz"} {
		rec := get(t, ok.Handler(), path)
		assert.Equal(t, http.StatusOK, rec.Code, path)

		var resp ReadyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Ready)
	}

	down := NewServer(ServerConfig{}, &fakeProvider{pingErr: errors.New("no route to host")})
	rec := get(t, down.Handler(), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Contains(t, resp.Reason, "no route to host")

	closed := NewServer(ServerConfig{}, &fakeProvider{stat: db.PoolStat{Closed: true}})
	rec = get(t, closed.Handler(), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLive(t *testing.T) {
	s := NewServer(ServerConfig{}, &fakeProvider{pingErr: errors.New("down")})
	for _, path := range []string{"/live", "/livez"} {
		rec := get(t, s.Handler(), path)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"alive": true}`, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer(ServerConfig{}, &fakeProvider{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer(ServerConfig{Bind: "127.0.0.1", Port: 0}, &fakeProvider{stat: db.PoolStat{MaxConnections: 1}})
	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start should fail")

	resp, err := http.Get("http://" + s.Addr() + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{3*time.Minute + 5*time.Second, "3m5s"},
		{2*time.Hour + 30*time.Minute, "2h30m"},
		{50 * time.Hour, "2d2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.HealthConfig{Enabled: true, Bind: "0.0.0.0", Port: 9000})
	assert.Equal(t, ServerConfig{Bind: "0.0.0.0", Port: 9000}, cfg)
}
