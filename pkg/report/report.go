// Package report defines the shared result types produced by replica syncs
// and fleet sweeps. The types marshal to JSON for machine-readable command
// output and are consumed by the agent's metrics observer.
package report

import (
	"time"
)

// Outcome classifies the result of syncing one replica.
type Outcome string

const (
	// OutcomeSynced means the replica reconciled and pushed successfully.
	OutcomeSynced Outcome = "synced"
	// OutcomeConflict means the replica is disabled by a pending conflict,
	// found already marked or marked during this sync.
	OutcomeConflict Outcome = "conflict"
	// OutcomeInvalid means the path is not a usable replica.
	OutcomeInvalid Outcome = "invalid"
	// OutcomeLocked means another process held the replica lock.
	OutcomeLocked Outcome = "locked"
	// OutcomeError covers every other failure.
	OutcomeError Outcome = "error"
)

// Failure reports whether the outcome needs operator attention. A locked
// replica is being synced by someone else and is left alone.
func (o Outcome) Failure() bool {
	switch o {
	case OutcomeConflict, OutcomeInvalid, OutcomeError:
		return true
	default:
		return false
	}
}

// ReplicaResult records the outcome of one replica within a sweep.
type ReplicaResult struct {
	Dir     string  `json:"dir"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`     // message when Outcome is not synced
	Elapsed float64 `json:"elapsed_seconds"`
}

// Sweep records one pass over the tracked replica set.
type Sweep struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Skipped  bool            `json:"skipped"` // another sweep held the fleet lock
	Results  []ReplicaResult `json:"results"`
}

// Elapsed returns the wall-clock duration of the sweep.
func (s *Sweep) Elapsed() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Counts tallies the sweep's results by outcome.
func (s *Sweep) Counts() Counts {
	var c Counts
	for _, r := range s.Results {
		switch r.Outcome {
		case OutcomeSynced:
			c.Synced++
		case OutcomeConflict:
			c.Conflict++
		case OutcomeInvalid:
			c.Invalid++
		case OutcomeLocked:
			c.Locked++
		default:
			c.Error++
		}
	}
	return c
}

// Failures counts results that need operator attention.
func (s *Sweep) Failures() int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome.Failure() {
			n++
		}
	}
	return n
}

// Counts is a per-outcome tally of one sweep.
type Counts struct {
	Synced   int `json:"synced"`
	Conflict int `json:"conflict"`
	Invalid  int `json:"invalid"`
	Locked   int `json:"locked"`
	Error    int `json:"error"`
}

// ReplicaStatus describes one tracked replica for status reporting.
type ReplicaStatus struct {
	Dir             string `json:"dir"`
	ClientID        string `json:"client_id,omitempty"`
	Exists          bool   `json:"exists"`
	ConflictPending bool   `json:"conflict_pending"`
	Invalid         string `json:"invalid,omitempty"` // reason when the path is not usable
}
