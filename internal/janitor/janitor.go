// Package janitor removes what outlived its retention: abandoned uploads, old results and
// finished job records.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/devcubo3/trabalho-mae/config"
	"github.com/devcubo3/trabalho-mae/internal/store"
	"github.com/devcubo3/trabalho-mae/internal/types"
)

type Uploads interface {
	RemoveStale(ctx context.Context, cutoff time.Time, keep func(types.ID) bool) (int, error)
}

type Report struct {
	Uploads int
	Results int
	Jobs    int
}

type Janitor struct {
	uploads Uploads
	results store.Results
	jobs    store.Jobs
	cfg     config.Retention
	logger  *slog.Logger
	cron    *cron.Cron
}

func New(uploads Uploads, results store.Results, jobs store.Jobs, cfg config.Retention, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		uploads: uploads,
		results: results,
		jobs:    jobs,
		cfg:     cfg,
		logger:  logger.With("component", "janitor"),
		cron:    cron.New(),
	}
}

// Start schedules Sweep on cfg.Schedule. An empty schedule disables it.
func (j *Janitor) Start(ctx context.Context) error {
	if j.cfg.Schedule == "" {
		j.logger.Info("retention sweep disabled")
		return nil
	}
	if _, err := j.cron.AddFunc(j.cfg.Schedule, func() {
		if _, err := j.Sweep(ctx, time.Now()); err != nil {
			j.logger.Warn("retention sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("retention sweep scheduled", "schedule", j.cfg.Schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep deletes everything older than its retention as of now. A zero retention keeps that
// kind of data forever. Failures on single items are collected, not fatal.
func (j *Janitor) Sweep(ctx context.Context, now time.Time) (Report, error) {
	var (
		report Report
		errs   []error
	)

	if j.cfg.Uploads > 0 {
		n, err := j.uploads.RemoveStale(ctx, now.Add(-j.cfg.Uploads), j.pending(ctx))
		report.Uploads = n
		if err != nil {
			errs = append(errs, fmt.Errorf("uploads: %w", err))
		}
	}

	if j.cfg.Results > 0 {
		n, err := j.sweepResults(ctx, now.Add(-j.cfg.Results))
		report.Results += n
		if err != nil {
			errs = append(errs, fmt.Errorf("results: %w", err))
		}
	}

	if j.cfg.Jobs > 0 {
		jobs, results, err := j.sweepJobs(ctx, now.Add(-j.cfg.Jobs))
		report.Jobs = jobs
		report.Results += results
		if err != nil {
			errs = append(errs, fmt.Errorf("jobs: %w", err))
		}
	}

	if report != (Report{}) {
		j.logger.Info("retention sweep", "uploads", report.Uploads, "results", report.Results, "jobs", report.Jobs)
	}
	return report, errors.Join(errs...)
}

// pending reports whether an upload still belongs to a queued or running job. Uploads of
// unknown jobs are orphans; lookup failures keep the file for the next sweep.
func (j *Janitor) pending(ctx context.Context) func(types.ID) bool {
	if j.jobs == nil {
		return nil
	}
	return func(id types.ID) bool {
		job, err := j.jobs.GetJob(ctx, id)
		if types.IsNotFound(err) {
			return false
		}
		if err != nil {
			j.logger.Warn("failed to look up upload job", "id", id, "error", err)
			return true
		}
		return !job.Status.Terminal()
	}
}

func (j *Janitor) sweepResults(ctx context.Context, cutoff time.Time) (int, error) {
	all, err := j.results.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, artifact := range store.Expired(all, cutoff) {
		if err := j.results.Delete(ctx, artifact.Name); err != nil && !types.IsNotFound(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (j *Janitor) sweepJobs(ctx context.Context, cutoff time.Time) (int, int, error) {
	jobs, err := j.jobs.ListFinishedJobs(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	var (
		removedJobs, removedResults int
		errs                        []error
	)
	for _, job := range jobs {
		if job.Result != "" {
			err := j.results.Delete(ctx, job.Result)
			switch {
			case err == nil:
				removedResults++
			case !types.IsNotFound(err):
				errs = append(errs, err)
				continue
			}
		}
		if err := j.jobs.DeleteJob(ctx, job.ID); err != nil && !types.IsNotFound(err) {
			errs = append(errs, err)
			continue
		}
		removedJobs++
	}
	return removedJobs, removedResults, errors.Join(errs...)
}
