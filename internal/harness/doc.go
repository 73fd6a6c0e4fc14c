// Package harness runs backfill scenarios described in YAML against an
// in-memory SQLite store and a scripted feed.
//
// # Scenario Format
//
//	name: scenario_name
//	description: "What this scenario validates"
//	completion: count        # count (default) or marker
//	workers: 1               # default 1
//	feed:
//	  "2024-04-01":
//	    records:
//	      - {id: ak0001, time: "2024-04-01T03:00:00Z", mag: "1.5"}
//	  "2024-04-02":
//	    fail: true           # fetches starting on this day fail
//	steps:
//	  - ensure: {from: "2024-04-01", to: "2024-04-02"}
//	    expect: {feed_calls: 2, fetched: 1, failed: 1}
//	  - heal: ["2024-04-02"] # clear the failure before ensuring
//	    ensure: {from: "2024-04-01", to: "2024-04-02"}
//	    expect: {feed_calls: 1, cached: 1, fetched: 1}
//	expect_counts:
//	  "2024-04-01": 1
//
// Every expect field is optional; only the ones present are checked.
// expect.error is one of no_progress, invalid_range or range_too_large.
//
// # Deterministic Testing
//
// Run IDs are run-1, run-2, ... in the order runs start and the clock
// advances one second per read. Feed calls are reported sorted by day so traces are
// identical across runs even with several workers, which makes them
// suitable for golden comparison (see RunWithGolden).
package harness
