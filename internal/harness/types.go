package harness

// StepTrace records what one ensure step did.
type StepTrace struct {
	Step      int           `json:"step"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Healed    []string      `json:"healed,omitempty"`
	FeedCalls []string      `json:"feed_calls"` // days fetched, sorted
	Summary   *SummaryTrace `json:"summary,omitempty"`
	Failed    []string      `json:"failed,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// SummaryTrace is the deterministic part of a backfill.Summary.
type SummaryTrace struct {
	RunID    string `json:"run_id"`
	Buckets  int    `json:"buckets"`
	Cached   int    `json:"cached"`
	Fetched  int    `json:"fetched"`
	Empty    int    `json:"empty"`
	Pending  int    `json:"pending"`
	Received int    `json:"received"`
	Inserted int    `json:"inserted"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation held.
	Pass bool `json:"pass"`

	Steps []StepTrace `json:"steps"`

	// Counts holds the final stored record count for every day touched by
	// an ensure step.
	Counts map[string]int64 `json:"counts"`

	// Errors contains one message per failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepTrace{},
		Counts: make(map[string]int64),
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
