// Package report turns per-rank measurements into the job's output: the
// timing table printed by the coordinating rank and the JSON results file.
package report

import (
	"time"
)

// Status is the outcome of the correctness check for one grid size
type Status string

const (
	// StatusOK means the final board matched the expected glider
	StatusOK Status = "ok"

	// StatusFail means the final board did not match
	StatusFail Status = "fail"

	// StatusUnchecked means the run outlived the glider's clear path, so
	// there is no expected board to compare against
	StatusUnchecked Status = "unchecked"
)

// Record is one rank's summary of one grid size
type Record struct {
	Rank        int           `json:"rank"`
	Size        int           `json:"size"`
	LocalRows   int           `json:"local_rows"`
	RowOffset   int           `json:"row_offset"`
	Generations int           `json:"generations"`
	Threads     int           `json:"threads"`
	Init        time.Duration `json:"init_ns"`
	Compute     time.Duration `json:"compute_ns"`
	Total       time.Duration `json:"total_ns"`
	Census      int           `json:"census"`
}

// SizeReport is the coordinating rank's view of one grid size
type SizeReport struct {
	Size        int `json:"size"`
	Ranks       int `json:"ranks"`
	Generations int `json:"generations"`

	// Timings are the coordinating rank's own
	Init    time.Duration `json:"init_ns"`
	Compute time.Duration `json:"compute_ns"`
	Total   time.Duration `json:"total_ns"`

	// Census is the number of live cells on the whole board
	Census int `json:"census"`

	// Status is empty when no check was requested
	Status Status `json:"status,omitempty"`

	Records []Record `json:"records"`
}

// Summarize builds the report for one size from every rank's record,
// ordered by rank
func Summarize(records []Record) SizeReport {
	var rep SizeReport
	if len(records) == 0 {
		return rep
	}

	first := records[0]
	rep.Size = first.Size
	rep.Ranks = len(records)
	rep.Generations = first.Generations
	rep.Init = first.Init
	rep.Compute = first.Compute
	rep.Total = first.Total
	for _, r := range records {
		rep.Census += r.Census
	}
	rep.Records = records

	return rep
}

// Slowest returns the record with the longest total time
func (r SizeReport) Slowest() Record {
	var slowest Record
	for i, rec := range r.Records {
		if i == 0 || rec.Total > slowest.Total {
			slowest = rec
		}
	}
	return slowest
}
