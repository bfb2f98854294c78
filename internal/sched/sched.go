// Package sched runs the service's recurring jobs: fixed-interval ticks and
// daily wall-clock jobs in a configured timezone. Each job runs at most one
// instance at a time, and a tick that comes up more than the grace period
// late is counted as a misfire and skipped rather than run stale.
package sched

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-systemv1/internal/metrics"
)

// MisfireGrace is how late a scheduled run may start before it is skipped.
const MisfireGrace = 30 * time.Second

// JobFunc is one unit of scheduled work.
type JobFunc func(ctx context.Context) error

// ErrUnknownJob is returned for operations on a job name never added.
var ErrUnknownJob = errors.New("sched: unknown job")

type job struct {
	name string
	fn   JobFunc

	interval time.Duration // periodic jobs
	daily    bool
	hour     int
	minute   int
	loc      *time.Location

	mu      sync.Mutex
	paused  bool
	running bool
	lastRun time.Time
	lastErr error
	nextRun time.Time
	runs    int
	skips   int
	kick    chan struct{} // run-now requests
}

// JobStatus is one job's state snapshot.
type JobStatus struct {
	Name      string     `json:"name"`
	Paused    bool       `json:"paused"`
	Running   bool       `json:"running"`
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
	Skips     int        `json:"skips"`
}

// Scheduler owns a fixed set of jobs registered before Run.
type Scheduler struct {
	mu    sync.Mutex
	jobs  map[string]*job
	order []string
	prom  *metrics.Metrics
}

// New creates an empty scheduler. prom may be nil.
func New(prom *metrics.Metrics) *Scheduler {
	return &Scheduler{jobs: make(map[string]*job), prom: prom}
}

// AddPeriodic registers a fixed-interval job.
func (s *Scheduler) AddPeriodic(name string, interval time.Duration, fn JobFunc) {
	s.add(&job{name: name, fn: fn, interval: interval, kick: make(chan struct{}, 1)})
}

// AddDaily registers a job firing at hour:minute each day in loc.
func (s *Scheduler) AddDaily(name string, hour, minute int, loc *time.Location, fn JobFunc) {
	if loc == nil {
		loc = time.UTC
	}
	s.add(&job{name: name, fn: fn, daily: true, hour: hour, minute: minute, loc: loc,
		kick: make(chan struct{}, 1)})
}

func (s *Scheduler) add(j *job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[j.name]; dup {
		panic(fmt.Sprintf("sched: duplicate job %q", j.name))
	}
	s.jobs[j.name] = j
	s.order = append(s.order, j.name)
}

// Run drives every registered job until ctx is cancelled, then waits for
// in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		j := s.jobs[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.drive(ctx, j)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) drive(ctx context.Context, j *job) {
	next := j.nextAfter(time.Now())
	j.setNextRun(next)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-j.kick:
			s.execute(ctx, j, time.Now())

		case <-timer.C:
			scheduled := next
			next = j.nextAfter(time.Now().Add(time.Second))
			j.setNextRun(next)
			timer.Reset(time.Until(next))

			if late := time.Since(scheduled); late > MisfireGrace {
				log.Printf("[sched] %s misfired, %s late", j.name, late.Round(time.Second))
				if s.prom != nil {
					s.prom.JobMisfires.Inc()
				}
				continue
			}
			s.execute(ctx, j, scheduled)
		}
	}
}

// execute runs the job unless it is paused or still running from a previous
// slot. Jobs are driven from a single goroutine, so overlap can only come
// from run-now requests.
func (s *Scheduler) execute(ctx context.Context, j *job, scheduled time.Time) {
	j.mu.Lock()
	if j.paused {
		j.skips++
		j.mu.Unlock()
		if s.prom != nil {
			s.prom.JobSkips.WithLabelValues(j.name).Inc()
		}
		return
	}
	if j.running {
		j.skips++
		j.mu.Unlock()
		log.Printf("[sched] %s still running, skipping slot %s", j.name, scheduled.Format(time.RFC3339))
		if s.prom != nil {
			s.prom.JobSkips.WithLabelValues(j.name).Inc()
		}
		return
	}
	j.running = true
	j.mu.Unlock()

	err := j.fn(ctx)

	j.mu.Lock()
	j.running = false
	j.lastRun = time.Now().UTC()
	j.lastErr = err
	j.runs++
	j.mu.Unlock()

	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Printf("[sched] %s: %v", j.name, err)
	}
	if s.prom != nil {
		s.prom.JobRunsTotal.WithLabelValues(j.name, outcome).Inc()
	}
}

// nextAfter computes the next firing time strictly after t.
func (j *job) nextAfter(t time.Time) time.Time {
	if !j.daily {
		return t.Add(j.interval)
	}
	local := t.In(j.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), j.hour, j.minute, 0, 0, j.loc)
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (j *job) setNextRun(t time.Time) {
	j.mu.Lock()
	j.nextRun = t
	j.mu.Unlock()
}

// Pause suppresses scheduled runs of one job until Resume.
func (s *Scheduler) Pause(name string) error {
	return s.setPaused(name, true)
}

// Resume re-enables a paused job.
func (s *Scheduler) Resume(name string) error {
	return s.setPaused(name, false)
}

func (s *Scheduler) setPaused(name string, paused bool) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	j.mu.Lock()
	j.paused = paused
	j.mu.Unlock()
	return nil
}

// RunNow requests an immediate out-of-schedule run. Returns an error when the
// job is unknown or a run-now request is already queued.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	select {
	case j.kick <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("sched: run-now already pending for %s", name)
	}
}

// Status snapshots every job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		j := s.jobs[name]
		j.mu.Lock()
		st := JobStatus{
			Name:    j.name,
			Paused:  j.paused,
			Running: j.running,
			NextRun: j.nextRun,
			Runs:    j.runs,
			Skips:   j.skips,
		}
		if !j.lastRun.IsZero() {
			last := j.lastRun
			st.LastRun = &last
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		j.mu.Unlock()
		out = append(out, st)
	}
	return out
}
