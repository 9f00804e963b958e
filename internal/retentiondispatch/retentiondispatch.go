// Package retentiondispatch turns the ordered list of named retention
// specs a log is configured with ({max_bytes, B} / {max_age, A}, spec
// §4.8) into internal/retention policy objects and schedules their
// periodic evaluation, the registry spec §1 places out of scope as a
// "retention policy dispatch and naming/counter registries" collaborator.
package retentiondispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chunklog/internal/cells"
	"chunklog/internal/logging"
	"chunklog/internal/retention"
)

// Kind identifies which of the two named retention specs an entry is.
type Kind int

const (
	KindMaxBytes Kind = iota
	KindMaxAge
)

// Spec is one entry in a log's ordered retention-spec list.
type Spec struct {
	Kind   Kind
	Bytes  int64
	MaxAge time.Duration
}

// BuildPolicy maps an ordered retention-spec list to the composite
// retention.Policy that evaluates all of them with union semantics.
func BuildPolicy(specs []Spec) retention.Policy {
	policies := make([]retention.Policy, 0, len(specs))
	for _, s := range specs {
		switch s.Kind {
		case KindMaxBytes:
			policies = append(policies, retention.NewSizePolicy(s.Bytes))
		case KindMaxAge:
			policies = append(policies, retention.NewTTLPolicy(s.MaxAge))
		}
	}
	return retention.NewCompositePolicy(policies...)
}

// EvaluateConcurrently snapshots dir once, then runs each spec's policy
// against that shared snapshot in its own goroutine, unions the
// condemned segment ids, and deletes them — the size-eval/age-eval
// concurrency the retention engine performs per directory.
func EvaluateConcurrently(ctx context.Context, dir string, specs []Spec, now time.Time, logger *slog.Logger) ([]uint64, error) {
	logger = logging.Default(logger).With("component", "retentiondispatch", "eval_id", uuid.NewString())

	state, err := retention.Snapshot(dir, now, logger)
	if err != nil {
		return nil, err
	}
	if len(state.Segments) <= 1 {
		return nil, nil
	}

	results := make([][]uint64, len(specs))
	g, _ := errgroup.WithContext(ctx)
	for i, s := range specs {
		i, s := i, s
		g.Go(func() error {
			switch s.Kind {
			case KindMaxBytes:
				results[i] = retention.NewSizePolicy(s.Bytes).Apply(state)
			case KindMaxAge:
				results[i] = retention.NewTTLPolicy(s.MaxAge).Apply(state)
			default:
				return fmt.Errorf("retentiondispatch: unknown spec kind %d", s.Kind)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[uint64]struct{})
	var doomed []uint64
	for _, ids := range results {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				doomed = append(doomed, id)
			}
		}
	}

	deleted, err := retention.Evaluate(dir, retention.PolicyFunc(func(retention.LogState) []uint64 { return doomed }), now, logger)
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Dispatcher schedules periodic retention evaluation per registered
// directory, one gocron job each, mirroring the teacher's per-store
// cron rotation manager.
type Dispatcher struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	logger    *slog.Logger
}

// New builds a Dispatcher backed by a fresh gocron scheduler.
func New(logger *slog.Logger) (*Dispatcher, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("retentiondispatch: create scheduler: %w", err)
	}
	return &Dispatcher{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		logger:    logging.Default(logger).With("component", "retentiondispatch"),
	}, nil
}

// Register schedules periodic retention evaluation for dir against
// specs every interval, publishing the refreshed counters into ids and
// counters after each pass that evicts segments.
func (d *Dispatcher) Register(dir string, specs []Spec, interval time.Duration, ids *cells.ChunkIDs, counters *cells.Counters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.jobs[dir]; exists {
		return fmt.Errorf("retentiondispatch: retention job already registered for %s", dir)
	}

	task := func() {
		deleted, err := EvaluateConcurrently(context.Background(), dir, specs, time.Now(), d.logger)
		if err != nil {
			d.logger.Error("retention evaluation failed", "dir", dir, "error", err)
			return
		}
		if len(deleted) == 0 {
			return
		}
		if err := retention.PublishCounters(dir, ids, counters, d.logger); err != nil {
			d.logger.Error("publish counters after retention failed", "dir", dir, "error", err)
			return
		}
		d.logger.Info("retention evaluation evicted segments", "dir", dir, "deleted", deleted)
	}

	j, err := d.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(fmt.Sprintf("retention-%s", dir)),
	)
	if err != nil {
		return fmt.Errorf("retentiondispatch: schedule job for %s: %w", dir, err)
	}

	d.jobs[dir] = j
	d.logger.Info("retention job registered", "dir", dir, "interval", interval)
	return nil
}

// Unregister stops and removes dir's retention job, if any.
func (d *Dispatcher) Unregister(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	j, ok := d.jobs[dir]
	if !ok {
		return
	}
	if err := d.scheduler.RemoveJob(j.ID()); err != nil {
		d.logger.Warn("failed to remove retention job", "dir", dir, "error", err)
	}
	delete(d.jobs, dir)
	d.logger.Info("retention job unregistered", "dir", dir)
}

// Start begins executing all registered retention jobs.
func (d *Dispatcher) Start() {
	d.scheduler.Start()
	d.logger.Info("retention scheduler started", "jobs", len(d.jobs))
}

// Stop shuts down the scheduler and waits for running jobs to finish.
func (d *Dispatcher) Stop() error {
	return d.scheduler.Shutdown()
}
