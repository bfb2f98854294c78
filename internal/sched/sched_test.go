package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPeriodicJobRuns(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.AddPeriodic("tick", 30*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if n := runs.Load(); n < 3 {
		t.Errorf("runs = %d, want at least 3 in 200ms at 30ms interval", n)
	}
}

func TestPauseResume(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.AddPeriodic("tick", 20*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.Pause("tick"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	time.Sleep(100 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Errorf("paused job ran %d times", n)
	}

	if err := s.Resume("tick"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if runs.Load() == 0 {
		t.Error("resumed job never ran")
	}

	cancel()
	<-done

	st := s.Status()
	if len(st) != 1 || st[0].Name != "tick" {
		t.Fatalf("status = %+v", st)
	}
	if st[0].Skips == 0 {
		t.Error("paused slots should count as skips")
	}
}

func TestRunNow(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	s.AddPeriodic("slow-cycle", time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	if err := s.RunNow("slow-cycle"); err != nil {
		t.Fatalf("run-now: %v", err)
	}
	if err := s.RunNow("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("run-now missing: err = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want exactly 1 from run-now", runs.Load())
	}
}

func TestJobErrorRecorded(t *testing.T) {
	s := New(nil)
	s.AddPeriodic("flaky", 20*time.Millisecond, func(ctx context.Context) error {
		return errors.New("boom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	st := s.Status()[0]
	if st.Runs == 0 {
		t.Fatal("job never ran")
	}
	if st.LastError != "boom" {
		t.Errorf("last error = %q", st.LastError)
	}
}

func TestDailyNextAfter(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	j := &job{daily: true, hour: 3, minute: 0, loc: loc}

	before := time.Date(2024, 5, 1, 2, 0, 0, 0, loc)
	next := j.nextAfter(before)
	if next.Hour() != 3 || next.Day() != 1 {
		t.Errorf("next from 02:00 = %v, want same-day 03:00", next)
	}

	after := time.Date(2024, 5, 1, 4, 0, 0, 0, loc)
	next = j.nextAfter(after)
	if next.Hour() != 3 || next.Day() != 2 {
		t.Errorf("next from 04:00 = %v, want next-day 03:00", next)
	}
}
