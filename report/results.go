package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// EngineName identifies this engine in results files
const EngineName = "lifegrid"

// Result is one job's entry in the results file
type Result struct {
	RequestID        string    `json:"request_id"`
	ClientID         string    `json:"client_id"`
	Engine           string    `json:"engine"`
	PowMin           int       `json:"powmin"`
	PowMax           int       `json:"powmax"`
	StartTime        time.Time `json:"start_time"`
	EndTime          time.Time `json:"end_time"`
	DurationMS       float64   `json:"duration_ms"`
	Status           string    `json:"status"`
	ErrorMessage     *string   `json:"error_message"`
	NumGenerations   int       `json:"num_generations"`
	BoardSize        int       `json:"board_size"`
	HostNode         string    `json:"host_node"`
	NumClientsActive int       `json:"num_clients_active"`
	Timestamp        time.Time `json:"timestamp"`

	Sizes []SizeReport `json:"sizes,omitempty"`
}

// Job describes a finished job for NewResult
type Job struct {
	RequestID     string
	ClientID      string
	PowMin        int
	PowMax        int
	Start         time.Time
	End           time.Time
	Reports       []SizeReport
	Err           error
	ClientsActive int
}

// NewResult builds the results entry for a job. A missing request id is
// generated. Generations and board size come from the largest size that ran.
func NewResult(job Job) Result {
	id := job.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	host, _ := os.Hostname()

	r := Result{
		RequestID:        id,
		ClientID:         job.ClientID,
		Engine:           EngineName,
		PowMin:           job.PowMin,
		PowMax:           job.PowMax,
		StartTime:        job.Start.UTC(),
		EndTime:          job.End.UTC(),
		DurationMS:       float64(job.End.Sub(job.Start)) / float64(time.Millisecond),
		Status:           "ok",
		HostNode:         host,
		NumClientsActive: job.ClientsActive,
		Timestamp:        time.Now().UTC(),
		Sizes:            job.Reports,
	}

	for _, rep := range job.Reports {
		if rep.Size > r.BoardSize {
			r.BoardSize = rep.Size
			r.NumGenerations = rep.Generations
		}
		if rep.Status == StatusFail {
			r.Status = "fail"
		}
	}
	if job.Err != nil {
		msg := job.Err.Error()
		r.Status = "error"
		r.ErrorMessage = &msg
	}

	return r
}

// AppendResult adds r to the JSON array stored at path, creating the file
// if needed. The file is replaced atomically.
func AppendResult(path string, r Result) error {
	var results []Result

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read results file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &results); err != nil {
			return fmt.Errorf("failed to parse results file %s: %w", path, err)
		}
	}

	results = append(results, r)
	out, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".results-*.json")
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write results file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// ReadResults loads every entry of the results file at path
func ReadResults(path string) ([]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse results file %s: %w", path, err)
	}
	return results, nil
}
