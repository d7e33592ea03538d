package main

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexconsult/avaluo-api/internal/services"
	"github.com/sirupsen/logrus"
)

// poolStats counts runs as workers pick them up
type poolStats struct {
	dispatched    atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
	activeWorkers atomic.Int32
}

// runPool distributes run numbers to a fixed set of workers. Each worker
// owns one browser at a time through the service.
type runPool struct {
	service services.AvaluoServiceInterface
	opts    batchOptions
	logger  *logrus.Logger

	jobs    chan int
	results chan RunResult
	stats   poolStats
	wg      sync.WaitGroup
}

func newRunPool(service services.AvaluoServiceInterface, opts batchOptions, logger *logrus.Logger) *runPool {
	return &runPool{
		service: service,
		opts:    opts,
		logger:  logger,
		jobs:    make(chan int),
		results: make(chan RunResult, opts.runs),
	}
}

// run dispatches every run until ctx is cancelled and returns the finished
// ones ordered by run number.
func (p *runPool) run(ctx context.Context) []RunResult {
	for id := 1; id <= p.opts.workers; id++ {
		p.wg.Add(1)
		go p.worker(ctx, id)
	}

	p.logger.WithFields(logrus.Fields{
		"workers": p.opts.workers,
		"runs":    p.opts.runs,
	}).Info("Batch started")

dispatch:
	for run := 1; run <= p.opts.runs; run++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case p.jobs <- run:
			p.stats.dispatched.Add(1)
		case <-ctx.Done():
			break dispatch
		}
	}
	close(p.jobs)
	p.wg.Wait()
	close(p.results)

	if ctx.Err() != nil {
		p.logger.WithField("dispatched", p.stats.dispatched.Load()).Warn("Batch interrupted")
	}

	results := make([]RunResult, 0, p.opts.runs)
	for result := range p.results {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Run < results[j].Run })
	return results
}

func (p *runPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.stats.activeWorkers.Add(1)
	defer p.stats.activeWorkers.Add(-1)

	first := true
	for run := range p.jobs {
		if !first && p.opts.delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.opts.delay):
			}
		}
		first = false

		result := runOnce(ctx, p.service, p.opts, run)
		if result.Success {
			p.stats.completed.Add(1)
		} else {
			p.stats.failed.Add(1)
		}
		p.results <- result

		p.logger.WithFields(logrus.Fields{
			"worker":   id,
			"run":      run,
			"success":  result.Success,
			"kind":     result.Kind,
			"duration": time.Duration(result.DurationMs) * time.Millisecond,
		}).Info("Run finished")
	}
}
