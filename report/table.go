package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Seconds formats d in seconds with seven decimals
func Seconds(d time.Duration) string {
	return fmt.Sprintf("%.7f", d.Seconds())
}

// WriteTable prints one line per grid size. A status column is added when
// any size was checked.
func WriteTable(w io.Writer, reports []SizeReport) error {
	checked := false
	for _, r := range reports {
		if r.Status != "" {
			checked = true
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	if checked {
		fmt.Fprintln(tw, "size\tinit\tcompute\ttotal\tstatus\t")
	} else {
		fmt.Fprintln(tw, "size\tinit\tcompute\ttotal\t")
	}

	for _, r := range reports {
		if checked {
			status := r.Status
			if status == "" {
				status = "-"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t\n", r.Size, Seconds(r.Init), Seconds(r.Compute), Seconds(r.Total), status)
		} else {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", r.Size, Seconds(r.Init), Seconds(r.Compute), Seconds(r.Total))
		}
	}

	return tw.Flush()
}

// WriteRankTable prints every rank's record for every size and marks the
// slowest rank of each size with a star
func WriteRankTable(w io.Writer, reports []SizeReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "size\trank\trows\toffset\tthreads\tinit\tcompute\ttotal\tcensus\tslowest\t")

	for _, r := range reports {
		slowest := r.Slowest().Rank
		for _, rec := range r.Records {
			mark := ""
			if rec.Rank == slowest {
				mark = "*"
			}
			fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%d\t%s\t\n",
				rec.Size, rec.Rank, rec.LocalRows, rec.RowOffset, rec.Threads,
				Seconds(rec.Init), Seconds(rec.Compute), Seconds(rec.Total), rec.Census, mark)
		}
	}

	return tw.Flush()
}

// WriteRunTable prints one line per recorded job
func WriteRunTable(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "request\tclient\tpowmin\tpowmax\tboard\tgenerations\tduration_ms\tstatus\tstarted\t")

	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%.1f\t%s\t%s\t\n",
			r.RequestID, r.ClientID, r.PowMin, r.PowMax, r.BoardSize, r.NumGenerations,
			r.DurationMS, r.Status, r.StartTime.Format(time.RFC3339))
	}

	return tw.Flush()
}
