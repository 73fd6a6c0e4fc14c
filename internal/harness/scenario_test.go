package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one empty day"
steps:
  - ensure: {from: "2024-04-01", to: "2024-04-01"}
`

func TestParseScenario_Minimal(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Empty(t, s.Completion)
	require.Len(t, s.Steps, 1)
	assert.Nil(t, s.Steps[0].Expect)
}

func TestParseScenario_Full(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: full
description: "every field"
completion: marker
workers: 3
max_range_days: 10
feed:
  "2024-04-01":
    fail: true
    records:
      - {id: a, time: "2024-04-01T01:00:00Z", mag: "1.0"}
steps:
  - heal: ["2024-04-01"]
    ensure: {from: "2024-04-01", to: "2024-04-02"}
    expect: {feed_calls: 2, cached: 0, fetched: 1, empty: 1, inserted: 1, failed: 0}
expect_counts:
  "2024-04-01": 1
`))
	require.NoError(t, err)
	assert.Equal(t, "marker", s.Completion)
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, 10, s.MaxRangeDays)
	assert.True(t, s.Feed["2024-04-01"].Fail)
	require.Len(t, s.Feed["2024-04-01"].Records, 1)

	exp := s.Steps[0].Expect
	require.NotNil(t, exp)
	require.NotNil(t, exp.FeedCalls)
	assert.Equal(t, 2, *exp.FeedCalls)
	require.NotNil(t, exp.Cached)
	assert.Equal(t, 0, *exp.Cached)
	assert.Equal(t, int64(1), s.ExpectCounts["2024-04-01"])
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\n",
			wantErr: "steps list is required",
		},
		{
			name:    "unknown field",
			yaml:    "name: n\ndescription: d\nexpect_count: {}\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "failed to parse YAML",
		},
		{
			name:    "bad completion",
			yaml:    "name: n\ndescription: d\ncompletion: eventually\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "eventually",
		},
		{
			name:    "bad feed key",
			yaml:    "name: n\ndescription: d\nfeed:\n  april: {}\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "key must be YYYY-MM-DD",
		},
		{
			name:    "record without id",
			yaml:    "name: n\ndescription: d\nfeed:\n  \"2024-04-01\":\n    records:\n      - {time: \"2024-04-01T00:00:00Z\"}\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "id is required",
		},
		{
			name:    "record with bad time",
			yaml:    "name: n\ndescription: d\nfeed:\n  \"2024-04-01\":\n    records:\n      - {id: a, time: yesterday}\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "time must be RFC 3339",
		},
		{
			name:    "ensure without to",
			yaml:    "name: n\ndescription: d\nsteps:\n  - ensure: {from: \"2024-04-01\"}\n",
			wantErr: "ensure.from and ensure.to are required",
		},
		{
			name:    "unparsable ensure day",
			yaml:    "name: n\ndescription: d\nsteps:\n  - ensure: {from: someday, to: \"2024-04-01\"}\n",
			wantErr: "ensure.from",
		},
		{
			name:    "heal unknown day",
			yaml:    "name: n\ndescription: d\nsteps:\n  - heal: [\"2024-04-09\"]\n    ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n",
			wantErr: "is not a feed day",
		},
		{
			name:    "unknown error kind",
			yaml:    "name: n\ndescription: d\nsteps:\n  - ensure: {from: \"2024-04-01\", to: \"2024-04-01\"}\n    expect: {error: boom}\n",
			wantErr: "unknown error kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadScenario_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
}
