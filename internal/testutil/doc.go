// Package testutil provides deterministic collaborators for tests: a
// stepping wall clock and a scripted, call-counting upstream feed.
package testutil
