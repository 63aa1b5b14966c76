package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/najoast/lifegrid/report"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func sampleResult(id string, at time.Time) report.Result {
	return report.Result{
		RequestID:        id,
		ClientID:         "client-1",
		Engine:           report.EngineName,
		PowMin:           3,
		PowMax:           4,
		StartTime:        at,
		EndTime:          at.Add(1500 * time.Millisecond),
		DurationMS:       1500,
		Status:           "ok",
		NumGenerations:   26,
		BoardSize:        16,
		HostNode:         "node-a",
		NumClientsActive: 2,
		Timestamp:        at.Add(2 * time.Second),
		Sizes: []report.SizeReport{
			{Size: 8, Ranks: 2, Generations: 10, Init: time.Millisecond, Compute: 3 * time.Millisecond, Total: 4 * time.Millisecond, Census: 5, Status: report.StatusOK},
			{Size: 16, Ranks: 2, Generations: 26, Init: time.Millisecond, Compute: 9 * time.Millisecond, Total: 10 * time.Millisecond, Census: 5, Status: report.StatusOK},
		},
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(" "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestRecordGetRunRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	input := sampleResult("run-1", now)

	if err := store.RecordRun(context.Background(), input); err != nil {
		t.Fatalf("record run: %v", err)
	}

	got, err := store.GetRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ClientID != input.ClientID || got.Engine != input.Engine || got.HostNode != input.HostNode {
		t.Fatalf("identity = %q/%q/%q, want %q/%q/%q",
			got.ClientID, got.Engine, got.HostNode, input.ClientID, input.Engine, input.HostNode)
	}
	if !got.StartTime.Equal(input.StartTime) || !got.EndTime.Equal(input.EndTime) {
		t.Fatalf("times = %s..%s, want %s..%s", got.StartTime, got.EndTime, input.StartTime, input.EndTime)
	}
	if got.BoardSize != 16 || got.NumGenerations != 26 || got.NumClientsActive != 2 {
		t.Fatalf("unexpected run fields: %+v", got)
	}
	if got.ErrorMessage != nil {
		t.Fatalf("error_message = %q, want nil", *got.ErrorMessage)
	}
	if len(got.Sizes) != 2 {
		t.Fatalf("sizes = %d, want 2", len(got.Sizes))
	}
	if got.Sizes[1].Size != 16 || got.Sizes[1].Compute != 9*time.Millisecond || got.Sizes[1].Status != report.StatusOK {
		t.Fatalf("unexpected size report: %+v", got.Sizes[1])
	}
}

func TestRecordRunKeepsErrorMessage(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	input := sampleResult("run-err", time.Now().UTC())
	msg := "communication failure"
	input.Status = "error"
	input.ErrorMessage = &msg
	input.Sizes = nil

	if err := store.RecordRun(context.Background(), input); err != nil {
		t.Fatalf("record run: %v", err)
	}
	got, err := store.GetRun(context.Background(), "run-err")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != msg {
		t.Fatalf("error_message = %v, want %q", got.ErrorMessage, msg)
	}
	if len(got.Sizes) != 0 {
		t.Fatalf("sizes = %d, want 0", len(got.Sizes))
	}

	n, err := store.CountRuns(context.Background(), "error")
	if err != nil {
		t.Fatalf("count runs: %v", err)
	}
	if n != 1 {
		t.Fatalf("error runs = %d, want 1", n)
	}
}

func TestRecordRunRejectsDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	input := sampleResult("run-dup", time.Now().UTC())
	if err := store.RecordRun(context.Background(), input); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := store.RecordRun(context.Background(), input); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate record error = %v, want %v", err, ErrAlreadyExists)
	}
}

func TestRecordRunValidation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.RecordRun(context.Background(), report.Result{}); err == nil {
		t.Fatal("expected missing request id error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.RecordRun(ctx, sampleResult("run-x", time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled record error = %v, want %v", err, context.Canceled)
	}
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.GetRun(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing error = %v, want %v", err, ErrNotFound)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	base := time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		if err := store.RecordRun(context.Background(), sampleResult(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(context.Background(), 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].RequestID != "third" || runs[1].RequestID != "second" {
		t.Fatalf("order = %s,%s, want third,second", runs[0].RequestID, runs[1].RequestID)
	}
	if len(runs[0].Sizes) != 2 {
		t.Fatalf("sizes = %d, want 2", len(runs[0].Sizes))
	}

	all, err := store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("list all runs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all runs = %d, want 3", len(all))
	}
}

func TestReopenKeepsRuns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.RecordRun(context.Background(), sampleResult("kept", time.Now().UTC())); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	if _, err := store.GetRun(context.Background(), "kept"); err != nil {
		t.Fatalf("get run after reopen: %v", err)
	}
}
