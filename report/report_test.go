package report

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/lifegrid/comm"
)

func sampleRecords() []Record {
	return []Record{
		{Rank: 0, Size: 16, LocalRows: 8, RowOffset: 0, Generations: 26, Threads: 2,
			Init: time.Millisecond, Compute: 20 * time.Millisecond, Total: 21 * time.Millisecond, Census: 0},
		{Rank: 1, Size: 16, LocalRows: 8, RowOffset: 8, Generations: 26, Threads: 2,
			Init: 2 * time.Millisecond, Compute: 30 * time.Millisecond, Total: 32 * time.Millisecond, Census: 5},
	}
}

func TestSummarize(t *testing.T) {
	rep := Summarize(sampleRecords())

	if rep.Size != 16 || rep.Ranks != 2 || rep.Generations != 26 {
		t.Errorf("unexpected shape: %+v", rep)
	}
	if rep.Census != 5 {
		t.Errorf("Census = %d, want 5", rep.Census)
	}
	if rep.Total != 21*time.Millisecond {
		t.Errorf("Total = %s, want the coordinating rank's 21ms", rep.Total)
	}
	if slowest := rep.Slowest(); slowest.Rank != 1 {
		t.Errorf("Slowest rank = %d, want 1", slowest.Rank)
	}

	if empty := Summarize(nil); empty.Ranks != 0 {
		t.Errorf("empty summary should have no ranks: %+v", empty)
	}
}

func TestCollect(t *testing.T) {
	const ranks = 4
	world, _ := comm.NewWorld(ranks)
	defer world.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var collected []Record
	eg, ectx := errgroup.WithContext(ctx)
	for r := 0; r < ranks; r++ {
		r := r
		eg.Go(func() error {
			records, err := Collect(ectx, world.Rank(r), Record{Rank: r, Size: 8, Census: r})
			if err != nil {
				return err
			}
			if r == 0 {
				collected = records
			} else if records != nil {
				return errors.New("non-coordinating rank received records")
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(collected) != ranks {
		t.Fatalf("collected %d records, want %d", len(collected), ranks)
	}
	for r, rec := range collected {
		if rec.Rank != r || rec.Census != r {
			t.Errorf("record %d out of order: %+v", r, rec)
		}
	}
}

func TestCollectRejectsWrongRank(t *testing.T) {
	world, _ := comm.NewWorld(2)
	defer world.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	world.Rank(1).Send(ctx, 0, comm.Envelope{Tag: comm.TagResult, Data: []byte(`{"rank":5}`)})
	if _, err := Collect(ctx, world.Rank(0), Record{}); !errors.Is(err, comm.ErrCommunication) {
		t.Fatalf("expected communication error, got %v", err)
	}
}

func TestWriteTable(t *testing.T) {
	rep := Summarize(sampleRecords())

	var buf bytes.Buffer
	if err := WriteTable(&buf, []SizeReport{rep}); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"size", "init", "compute", "total", "16", "0.0010000", "0.0200000", "0.0210000"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "status") {
		t.Errorf("unchecked table should not have a status column:\n%s", out)
	}

	rep.Status = StatusOK
	buf.Reset()
	WriteTable(&buf, []SizeReport{rep})
	if !strings.Contains(buf.String(), "status") || !strings.Contains(buf.String(), "ok") {
		t.Errorf("checked table should show the status:\n%s", buf.String())
	}
}

func TestWriteRankTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteRankTable(&buf, []SizeReport{Summarize(sampleRecords())}); err != nil {
		t.Fatalf("WriteRankTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rank lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], "slowest") {
		t.Errorf("header should end with the slowest column: %q", lines[0])
	}
	if strings.HasSuffix(lines[1], "*") || !strings.HasSuffix(lines[2], "*") {
		t.Errorf("only rank 1 should be marked slowest:\n%s", buf.String())
	}
}

func TestWriteRunTable(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	runs := []Result{
		{RequestID: "b", ClientID: "cli", PowMin: 3, PowMax: 4, BoardSize: 16, NumGenerations: 26,
			DurationMS: 12.5, Status: "ok", StartTime: start},
		{RequestID: "a", ClientID: "cli", PowMin: 3, PowMax: 3, BoardSize: 8, NumGenerations: 10,
			Status: "error", StartTime: start},
	}

	var buf bytes.Buffer
	if err := WriteRunTable(&buf, runs); err != nil {
		t.Fatalf("WriteRunTable: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 runs, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "b ") || !strings.Contains(lines[1], "12.5") || !strings.Contains(lines[1], "2025-01-02T03:04:05Z") {
		t.Errorf("unexpected first run line %q", lines[1])
	}
	if !strings.Contains(lines[2], "error") {
		t.Errorf("unexpected second run line %q", lines[2])
	}
}

func TestNewResult(t *testing.T) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	small := Summarize(sampleRecords())
	large := small
	large.Size, large.Generations = 32, 58

	r := NewResult(Job{PowMin: 4, PowMax: 5, Start: start, End: start.Add(1500 * time.Millisecond),
		Reports: []SizeReport{small, large}})

	if r.RequestID == "" {
		t.Error("request id should be generated")
	}
	if r.DurationMS != 1500 {
		t.Errorf("DurationMS = %v, want 1500", r.DurationMS)
	}
	if r.BoardSize != 32 || r.NumGenerations != 58 {
		t.Errorf("board %d generations %d, want 32 and 58", r.BoardSize, r.NumGenerations)
	}
	if r.Status != "ok" || r.ErrorMessage != nil {
		t.Errorf("unexpected status %q error %v", r.Status, r.ErrorMessage)
	}

	failed := NewResult(Job{RequestID: "abc", Err: errors.New("boom")})
	if failed.RequestID != "abc" || failed.Status != "error" || failed.ErrorMessage == nil || *failed.ErrorMessage != "boom" {
		t.Errorf("unexpected failed result: %+v", failed)
	}
}

func TestAppendResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	for _, id := range []string{"first", "second"} {
		if err := AppendResult(path, NewResult(Job{RequestID: id})); err != nil {
			t.Fatalf("AppendResult(%s): %v", id, err)
		}
	}

	results, err := ReadResults(path)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(results) != 2 || results[0].RequestID != "first" || results[1].RequestID != "second" {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Engine != EngineName {
		t.Errorf("Engine = %q, want %q", results[0].Engine, EngineName)
	}
}
