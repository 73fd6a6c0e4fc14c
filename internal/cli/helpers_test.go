package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/config"
)

// quake is one event served by fdsnServer.
type quake struct {
	id    string
	at    time.Time
	mag   float64
	place string
}

// fdsnServer answers FDSN event queries from a fixed catalog. Requests
// whose starttime falls on a day in failDays get a 503.
type fdsnServer struct {
	*httptest.Server

	mu       sync.Mutex
	catalog  []quake
	failDays map[string]bool
	failAll  bool
	requests []string
}

func newFDSNServer(t *testing.T, catalog ...quake) *fdsnServer {
	t.Helper()
	s := &fdsnServer{catalog: catalog, failDays: map[string]bool{}}
	sort.Slice(s.catalog, func(i, j int) bool { return s.catalog[i].at.Before(s.catalog[j].at) })
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

func (s *fdsnServer) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err1 := time.Parse("2006-01-02T15:04:05", q.Get("starttime"))
	end, err2 := time.Parse("2006-01-02T15:04:05", q.Get("endtime"))
	if err1 != nil || err2 != nil {
		http.Error(w, "bad time", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, start.Format("2006-01-02"))
	fail := s.failAll || s.failDays[start.Format("2006-01-02")]
	var features []map[string]any
	for _, e := range s.catalog {
		if e.at.Before(start) || e.at.After(end) {
			continue
		}
		features = append(features, map[string]any{
			"type": "Feature",
			"id":   e.id,
			"properties": map[string]any{
				"time":  e.at.UnixMilli(),
				"mag":   e.mag,
				"place": e.place,
			},
		})
	}
	s.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if features == nil {
		features = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	})
}

func (s *fdsnServer) failDay(day string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDays[day] = true
}

func (s *fdsnServer) setFailAll(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = v
}

func (s *fdsnServer) requestDays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// testEnv is a config file, a SQLite path and a feed server for one test.
type testEnv struct {
	t      *testing.T
	dir    string
	config string
	feed   *fdsnServer
	runIDs *backfill.FixedGenerator
	now    time.Time
}

// sampleCatalog is three events on 2024-04-01 and one on 2024-04-02.
func sampleCatalog() []quake {
	return []quake{
		{id: "ak0001", at: time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC), mag: 1.5, place: "10 km N of Willow, Alaska"},
		{id: "ci0002", at: time.Date(2024, 4, 1, 12, 30, 0, 0, time.UTC), mag: 2.1, place: "5 km W of Ridgecrest, CA"},
		{id: "us0003", at: time.Date(2024, 4, 1, 23, 59, 59, 0, time.UTC), mag: 4.6, place: "Fiji region"},
		{id: "nc0004", at: time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC), mag: 0.9, place: "The Geysers, CA"},
	}
}

// newTestEnv writes a config pointing at a fresh SQLite file and feed
// server. extra is appended to the YAML verbatim.
func newTestEnv(t *testing.T, extra string, catalog ...quake) *testEnv {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvFeedBaseURL, "")

	dir := t.TempDir()
	srv := newFDSNServer(t, catalog...)

	yaml := "database:\n" +
		"  url: " + strconv.Quote(filepath.Join(dir, "cache.db")) + "\n" +
		"feed:\n" +
		"  base_url: " + strconv.Quote(srv.URL+"/fdsnws/event/1/query") + "\n" +
		"  timeout: 5s\n" +
		"  max_retries: 1\n" +
		"  backoff: 1ms\n" +
		"  max_backoff: 1ms\n" +
		extra
	path := filepath.Join(dir, "quakecache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	return &testEnv{
		t:      t,
		dir:    dir,
		config: path,
		feed:   srv,
		runIDs: backfill.NewFixedGenerator("run-1", "run-2", "run-3"),
		now:    time.Date(2024, 4, 4, 10, 0, 0, 0, time.UTC),
	}
}

func (e *testEnv) rootOptions(format string) *RootOptions {
	return &RootOptions{
		Format:     format,
		ConfigPath: e.config,
		RunIDs:     e.runIDs,
		Now:        func() time.Time { return e.now },
		LogWriter:  io.Discard,
	}
}

// run executes one subcommand built by newCmd and returns its stdout.
func (e *testEnv) run(format string, newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	e.t.Helper()
	buf := &bytes.Buffer{}
	cmd := newCmd(e.rootOptions(format))
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// response decodes a JSON CLIResponse whose data is a T.
type response[T any] struct {
	Status string    `json:"status"`
	RunID  string    `json:"run_id"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decodeResponse[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}
