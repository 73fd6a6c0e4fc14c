package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/quakecache/internal/backfill"
	"github.com/roach88/quakecache/internal/event"
)

// Scenario defines a backfill scenario: an upstream catalog, a sequence of
// ensure steps, and the expected outcome of each.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Completion is "count" (default) or "marker".
	Completion string `yaml:"completion,omitempty"`

	// Workers bounds concurrent buckets. Zero means 1.
	Workers int `yaml:"workers,omitempty"`

	// MaxRangeDays caps the days one ensure may cover. Zero means the default.
	MaxRangeDays int `yaml:"max_range_days,omitempty"`

	// Feed is the upstream catalog keyed by day (YYYY-MM-DD).
	Feed map[string]FeedDay `yaml:"feed"`

	Steps []Step `yaml:"steps"`

	// ExpectCounts is the stored record count per day after all steps.
	ExpectCounts map[string]int64 `yaml:"expect_counts,omitempty"`
}

// FeedDay scripts the upstream for one day.
type FeedDay struct {
	Records []FeedRecord `yaml:"records,omitempty"`

	// Fail makes fetches starting on this day fail until healed.
	Fail bool `yaml:"fail,omitempty"`
}

// FeedRecord is one upstream event. Time is RFC 3339.
type FeedRecord struct {
	ID   string `yaml:"id"`
	Time string `yaml:"time"`
	Mag  string `yaml:"mag,omitempty"`
}

// Step heals scripted failures, then ensures a range.
type Step struct {
	Heal   []string    `yaml:"heal,omitempty"`
	Ensure Range       `yaml:"ensure"`
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// Range is an inclusive day range.
type Range struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// StepExpect lists the expected summary values. Nil fields are not checked.
type StepExpect struct {
	FeedCalls *int   `yaml:"feed_calls,omitempty"`
	Cached    *int   `yaml:"cached,omitempty"`
	Fetched   *int   `yaml:"fetched,omitempty"`
	Empty     *int   `yaml:"empty,omitempty"`
	Inserted  *int   `yaml:"inserted,omitempty"`
	Failed    *int   `yaml:"failed,omitempty"`
	Error     string `yaml:"error,omitempty"`
}

// Error kinds accepted by StepExpect.Error.
const (
	ErrorNoProgress    = "no_progress"
	ErrorInvalidRange  = "invalid_range"
	ErrorRangeTooLarge = "range_too_large"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML from memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches typos like "expect_count:"
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if s.Description == "" {
		return errors.New("description is required")
	}
	if s.Completion != "" {
		if _, err := backfill.ParseCompletionMode(s.Completion); err != nil {
			return err
		}
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", s.Workers)
	}
	if s.MaxRangeDays < 0 {
		return fmt.Errorf("max_range_days must be >= 0, got %d", s.MaxRangeDays)
	}
	if len(s.Steps) == 0 {
		return errors.New("steps list is required and must be non-empty")
	}

	for day, fd := range s.Feed {
		if _, err := time.Parse(event.DayLayout, day); err != nil {
			return fmt.Errorf("feed[%q]: key must be YYYY-MM-DD", day)
		}
		for i, r := range fd.Records {
			if r.ID == "" {
				return fmt.Errorf("feed[%q].records[%d]: id is required", day, i)
			}
			if _, err := time.Parse(time.RFC3339, r.Time); err != nil {
				return fmt.Errorf("feed[%q].records[%d]: time must be RFC 3339: %w", day, i, err)
			}
		}
	}

	for i, step := range s.Steps {
		if step.Ensure.From == "" || step.Ensure.To == "" {
			return fmt.Errorf("steps[%d]: ensure.from and ensure.to are required", i)
		}
		if _, err := event.ParseDay(step.Ensure.From); err != nil {
			return fmt.Errorf("steps[%d].ensure.from: %w", i, err)
		}
		if _, err := event.ParseDay(step.Ensure.To); err != nil {
			return fmt.Errorf("steps[%d].ensure.to: %w", i, err)
		}
		for _, day := range step.Heal {
			if _, ok := s.Feed[day]; !ok {
				return fmt.Errorf("steps[%d]: heal %q is not a feed day", i, day)
			}
		}
		if step.Expect != nil {
			switch step.Expect.Error {
			case "", ErrorNoProgress, ErrorInvalidRange, ErrorRangeTooLarge:
			default:
				return fmt.Errorf("steps[%d].expect: unknown error kind %q", i, step.Expect.Error)
			}
		}
	}

	for day := range s.ExpectCounts {
		if _, err := time.Parse(event.DayLayout, day); err != nil {
			return fmt.Errorf("expect_counts[%q]: key must be YYYY-MM-DD", day)
		}
	}
	return nil
}
