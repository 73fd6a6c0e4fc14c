package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakecache/internal/backfill"
)

func TestBackfillCommand_FetchesThenServesFromCache(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	out, err := env.run("json", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-02")
	require.NoError(t, err)

	first := decodeResponse[summaryView](t, out)
	assert.Equal(t, "ok", first.Status)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "2024-04-01", first.Data.From)
	assert.Equal(t, "2024-04-02", first.Data.To)
	assert.Equal(t, 2, first.Data.Buckets)
	assert.Equal(t, 2, first.Data.Fetched)
	assert.Equal(t, 4, first.Data.Inserted)
	assert.True(t, first.Data.Complete)
	assert.Equal(t, []string{"2024-04-01", "2024-04-02"}, env.feed.requestDays())

	out, err = env.run("json", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-02")
	require.NoError(t, err)

	second := decodeResponse[summaryView](t, out)
	assert.Equal(t, "run-2", second.RunID)
	assert.Equal(t, 2, second.Data.Cached)
	assert.Equal(t, 0, second.Data.Fetched)
	assert.Equal(t, 0, second.Data.Inserted)
	assert.Len(t, env.feed.requestDays(), 2, "cached days must not hit the feed")
}

func TestBackfillCommand_TextSummary(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	out, err := env.run("text", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-02")
	require.NoError(t, err)
	assert.Contains(t, out, "Backfill 2024-04-01..2024-04-02: 2 buckets (run run-1)")
	assert.Contains(t, out, "fetched:  2")
	assert.Contains(t, out, "inserted: 4 of 4 received")
}

func TestBackfillCommand_VerboseAnnouncesRange(t *testing.T) {
	env := newTestEnv(t, "backfill:\n  completion: marker\n", sampleCatalog()...)

	opts := env.rootOptions("json")
	opts.Verbose = true
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewBackfillCommand(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs([]string{"--from", "2024-04-01", "--to", "2024-04-02"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "ensuring 2024-04-01..2024-04-02 (completion marker, 1 workers)\n", stderr.String())
	assert.Equal(t, "ok", decodeResponse[summaryView](t, stdout.String()).Status)
}

func TestBackfillCommand_InvalidRange(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	tests := []struct {
		name string
		args []string
	}{
		{"reversed", []string{"--from", "2024-04-02", "--to", "2024-04-01"}},
		{"unparsable", []string{"--from", "yesterday", "--to", "2024-04-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := env.run("text", NewBackfillCommand, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E101]")
		})
	}
	assert.Empty(t, env.feed.requestDays())
}

func TestBackfillCommand_PartialFailure(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)
	env.feed.failDay("2024-04-02")

	out, err := env.run("json", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-02")
	require.NoError(t, err, "one fetched bucket is progress")

	resp := decodeResponse[summaryView](t, out)
	assert.Equal(t, 1, resp.Data.Fetched)
	assert.Equal(t, 3, resp.Data.Inserted)
	assert.False(t, resp.Data.Complete)
	require.Len(t, resp.Data.Failures, 1)
	assert.Equal(t, "2024-04-02", resp.Data.Failures[0].Bucket)
	assert.Equal(t, "fetch", resp.Data.Failures[0].Stage)
}

func TestBackfillCommand_NoProgress(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)
	env.feed.setFailAll(true)

	out, err := env.run("json", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-02")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, backfill.IsNoProgress(err))

	resp := decodeResponse[summaryView](t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNoProgress, resp.Error.Code)
}

func TestBackfillCommand_BadConfig(t *testing.T) {
	env := newTestEnv(t, "backfill:\n  workers: 0\n", sampleCatalog()...)

	out, err := env.run("text", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-01")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
	assert.Empty(t, env.feed.requestDays())
}

func TestQueryCommand_BackfillsAndPrintsInOrder(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	out, err := env.run("json", NewQueryCommand, "--from", "2024-04-01", "--to", "2024-04-01")
	require.NoError(t, err)

	resp := decodeResponse[[]recordView](t, out)
	assert.Equal(t, "run-1", resp.RunID)
	require.Len(t, resp.Data, 3)
	assert.Equal(t, "ak0001", resp.Data[0].ID)
	assert.Equal(t, "ci0002", resp.Data[1].ID)
	assert.Equal(t, "us0003", resp.Data[2].ID)
	assert.Equal(t, "2024-04-01T23:59:59.000Z", resp.Data[2].Time)
}

func TestQueryCommand_NoBackfill(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	out, err := env.run("text", NewQueryCommand, "--from", "2024-04-01", "--to", "2024-04-02", "--no-backfill")
	require.NoError(t, err)
	assert.Contains(t, out, "No events in range.")
	assert.Empty(t, env.feed.requestDays())
}

func TestQueryCommand_PrintsWhatIsCachedOnFailure(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)
	env.feed.failDay("2024-04-01")

	out, err := env.run("text", NewQueryCommand, "--from", "2024-04-01", "--to", "2024-04-02")
	require.NoError(t, err)
	assert.Contains(t, out, "nc0004")
	assert.NotContains(t, out, "ak0001")
	assert.Contains(t, out, "1 events")
}

func TestQueryCommand_ReversedRange(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	out, err := env.run("text", NewQueryCommand, "--from", "2024-04-03", "--to", "2024-04-01")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]")
}

func TestGapsCommand(t *testing.T) {
	env := newTestEnv(t, "", sampleCatalog()...)

	_, err := env.run("text", NewBackfillCommand, "--from", "2024-04-01", "--to", "2024-04-01")
	require.NoError(t, err)
	requests := len(env.feed.requestDays())

	out, err := env.run("json", NewGapsCommand, "--from", "2024-04-01", "--to", "2024-04-03")
	require.NoError(t, err)

	resp := decodeResponse[gapsView](t, out)
	assert.Equal(t, "count", resp.Data.Mode)
	assert.Equal(t, 2, resp.Data.Missing)
	require.Len(t, resp.Data.Days, 3)
	assert.Equal(t, gapView{Day: "2024-04-01", Count: 3, Cached: true}, resp.Data.Days[0])
	assert.Equal(t, gapView{Day: "2024-04-02", Count: 0, Cached: false}, resp.Data.Days[1])
	assert.Len(t, env.feed.requestDays(), requests, "gaps never contacts the feed")

	out, err = env.run("text", NewGapsCommand, "--from", "2024-04-01", "--to", "2024-04-03")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 3 days missing (mode count)")
}

func TestQueryCommand_Pre1970Day(t *testing.T) {
	env := newTestEnv(t, "", quake{
		id:    "iscgem869809",
		at:    time.Date(1964, 3, 28, 3, 36, 16, 0, time.UTC),
		mag:   9.2,
		place: "Southern Alaska",
	})

	out, err := env.run("json", NewQueryCommand, "--from", "1964-03-28", "--to", "1964-03-28")
	require.NoError(t, err)

	resp := decodeResponse[[]recordView](t, out)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "iscgem869809", resp.Data[0].ID)
	assert.Equal(t, "1964-03-28T03:36:16.000Z", resp.Data[0].Time)

	out, err = env.run("json", NewGapsCommand, "--from", "1964-03-28", "--to", "1964-03-28")
	require.NoError(t, err)
	gaps := decodeResponse[gapsView](t, out)
	assert.Equal(t, 0, gaps.Data.Missing)
	assert.Equal(t, gapView{Day: "1964-03-28", Count: 1, Cached: true}, gaps.Data.Days[0])
}

func TestGapsCommand_MarkerMode(t *testing.T) {
	env := newTestEnv(t, "backfill:\n  completion: marker\n", sampleCatalog()...)

	_, err := env.run("text", NewBackfillCommand, "--from", "2024-04-03", "--to", "2024-04-03")
	require.NoError(t, err)

	out, err := env.run("json", NewGapsCommand, "--from", "2024-04-03", "--to", "2024-04-03")
	require.NoError(t, err)

	resp := decodeResponse[gapsView](t, out)
	assert.Equal(t, "marker", resp.Data.Mode)
	assert.Equal(t, 0, resp.Data.Missing)
	assert.Equal(t, gapView{Day: "2024-04-03", Count: 0, Marked: true, Cached: true}, resp.Data.Days[0])
}

func TestWatchCommand_Once(t *testing.T) {
	env := newTestEnv(t, "watch:\n  lookback_days: 3\n", sampleCatalog()...)

	out, err := env.run("json", NewWatchCommand, "--once")
	require.NoError(t, err)

	resp := decodeResponse[summaryView](t, out)
	assert.Equal(t, "2024-04-01", resp.Data.From)
	assert.Equal(t, "2024-04-03", resp.Data.To)
	assert.Equal(t, 3, resp.Data.Buckets)
	assert.Equal(t, 4, resp.Data.Inserted)
	assert.NotContains(t, env.feed.requestDays(), "2024-04-04", "today is never fetched")
}

func TestWatchWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 30, 0, 0, time.UTC)

	from, to := watchWindow(now, 2)
	assert.Equal(t, time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), to)

	from, to = watchWindow(now, 1)
	assert.Equal(t, from, to)
}

func TestMetricsMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	backfill.NewMetrics(reg)

	var healthy atomic.Bool
	healthy.Store(true)
	mux := newMetricsMux(reg, &healthy)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	healthy.Store(false)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quakecache_backfill_buckets_total")
}

func TestStoreKind(t *testing.T) {
	tests := []struct {
		url        string
		wantKind   string
		wantTarget string
	}{
		{"quakecache.db", backendSQLite, "quakecache.db"},
		{"sqlite:///var/lib/quakes.db", backendSQLite, "/var/lib/quakes.db"},
		{":memory:", backendSQLite, ":memory:"},
		{"postgres://u:p@localhost/quakes", backendPostgres, "postgres://u:p@localhost/quakes"},
		{"postgresql://localhost/quakes", backendPostgres, "postgresql://localhost/quakes"},
		{"mongodb://localhost:27017", backendMongo, "mongodb://localhost:27017"},
		{"mongodb+srv://cluster.example.net", backendMongo, "mongodb+srv://cluster.example.net"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			kind, target := storeKind(tt.url)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestOpenStore_NetworkBackendsLogThroughAppLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := openStore(ctx, "postgres://quake@127.0.0.1:1/quakecache?sslmode=disable", "", logger)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "postgres connect failed")

	buf.Reset()
	_, err = openStore(ctx, "mongodb://127.0.0.1:1/?serverSelectionTimeoutMS=50", "quakes", logger)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "opening mongo store")
	assert.Contains(t, buf.String(), "database=quakes")
}
