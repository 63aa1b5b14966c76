package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/najoast/lifegrid/comm"
	"github.com/najoast/lifegrid/report"
)

// Job is a complete run: every board from 2^PowMin to 2^PowMax on Ranks ranks
type Job struct {
	PowMin  int
	PowMax  int
	Ranks   int
	Options Options
}

// Validate checks the job before anything is started
func (j Job) Validate() error {
	if j.Ranks < 1 {
		return configError("at least one rank is required, got %d", j.Ranks)
	}
	if _, err := Sizes(j.PowMin, j.PowMax); err != nil {
		return err
	}
	return j.Options.Validate()
}

// RunLocal runs every rank of job as a goroutine of this process. An error
// on any rank cancels the others, and the first error is returned together
// with the reports of the sizes that completed.
func RunLocal(ctx context.Context, job Job) ([]report.SizeReport, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	world, err := comm.NewWorld(job.Ranks)
	if err != nil {
		return nil, err
	}
	defer world.Close()

	var reports []report.SizeReport
	eg, ectx := errgroup.WithContext(ctx)
	for r := 0; r < job.Ranks; r++ {
		r := r
		eg.Go(func() error {
			c := world.Rank(r)
			defer c.Close()

			co, err := NewCoordinator(c, job.Options)
			if err != nil {
				return err
			}
			reps, err := co.Run(ectx, job.PowMin, job.PowMax)
			if r == 0 {
				reports = reps
			}
			return err
		})
	}

	err = eg.Wait()
	return reports, err
}

// RunMesh runs this process's rank of a TCP mesh. The job's rank count is
// the number of peers. Only rank 0 gets reports.
func RunMesh(ctx context.Context, cfg comm.MeshConfig, job Job) ([]report.SizeReport, error) {
	job.Ranks = len(cfg.Peers)
	if err := job.Validate(); err != nil {
		return nil, err
	}

	mesh, err := comm.NewMesh(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer mesh.Close()
	if job.Options.Logger != nil {
		job.Options.Logger.Printf("rank %d of %d joined session %d", mesh.Rank(), mesh.Size(), mesh.Session())
	}

	co, err := NewCoordinator(mesh, job.Options)
	if err != nil {
		return nil, err
	}
	return co.Run(ctx, job.PowMin, job.PowMax)
}
