package alert

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/query"
	"signal-systemv1/internal/store/sqlite"
)

// Evaluator periodically runs every active rule's predicate against stored
// data and hands matches to the dispatcher. Rules are checked in parallel;
// one rule's failure or panic never stops the sweep.
type Evaluator struct {
	store      *sqlite.Store
	engine     *query.Engine
	dispatcher *Dispatcher
	prom       *metrics.Metrics
	interval   time.Duration
	now        func() time.Time

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastCheck time.Time
}

// NewEvaluator creates an evaluator sweeping every interval. prom may be nil.
func NewEvaluator(store *sqlite.Store, engine *query.Engine, dispatcher *Dispatcher,
	interval time.Duration, prom *metrics.Metrics) *Evaluator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Evaluator{
		store:      store,
		engine:     engine,
		dispatcher: dispatcher,
		prom:       prom,
		interval:   interval,
		now:        time.Now,
	}
}

// Start launches the monitoring loop. Starting an already-running evaluator
// is an error.
func (e *Evaluator) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("evaluator already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx, e.done)
	log.Printf("[evaluator] monitoring started, interval %s", e.interval)
	return nil
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	<-done
	log.Printf("[evaluator] monitoring stopped")
}

// Running reports whether the loop is active.
func (e *Evaluator) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Status reports the loop state for the monitoring endpoints.
func (e *Evaluator) Status() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := map[string]any{
		"is_monitoring":      e.running,
		"check_interval_sec": int(e.interval / time.Second),
	}
	if !e.lastCheck.IsZero() {
		st["last_check_time"] = e.lastCheck.Format(time.RFC3339)
	}
	return st
}

func (e *Evaluator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.CheckOnce(ctx); err != nil {
				log.Printf("[evaluator] sweep: %v", err)
			}
		}
	}
}

// CheckOnce sweeps every active rule. Returns an error only when the rule
// list itself cannot be loaded.
func (e *Evaluator) CheckOnce(ctx context.Context) error {
	start := time.Now()
	rules, err := e.store.ListRules(ctx, true, "")
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := range rules {
		rule := rules[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[evaluator] rule %s panicked: %v\n%s", rule.ID, r, debug.Stack())
				}
			}()
			e.checkRule(ctx, &rule)
		}()
	}
	wg.Wait()

	e.mu.Lock()
	e.lastCheck = e.now().UTC()
	e.mu.Unlock()
	if e.prom != nil {
		e.prom.EvaluatorCycleDur.Observe(time.Since(start).Seconds())
	}
	return nil
}

func (e *Evaluator) checkRule(ctx context.Context, rule *model.Rule) {
	if e.prom != nil {
		e.prom.AlertChecksTotal.Inc()
	}
	if e.suppressed(rule) {
		return
	}

	res, err := e.engine.Execute(ctx, query.Request{
		Symbol:     rule.Symbol,
		Timeframes: rule.Timeframes,
		Conditions: rule.TriggerConditions,
		Limit:      1,
		SortBy:     "timestamp",
		SortOrder:  "desc",
	})
	if err != nil {
		log.Printf("[evaluator] rule %s (%s) query: %v", rule.Name, rule.ID, err)
		return
	}
	if res.MatchedRecords == 0 {
		return
	}

	matched := &res.Data[0]
	if _, err := e.dispatcher.Dispatch(ctx, rule, matched); err != nil {
		log.Printf("[evaluator] rule %s (%s) dispatch: %v", rule.Name, rule.ID, err)
	}
}

// suppressed applies the frequency gate. once-rules stay silent after their
// first firing; hourly/daily enforce a minimum gap since the last one.
func (e *Evaluator) suppressed(rule *model.Rule) bool {
	now := e.now().UTC()
	switch rule.Frequency {
	case model.FreqOnce:
		return rule.TriggerCount > 0
	case model.FreqHourly:
		return rule.LastTriggeredAt != nil && now.Sub(*rule.LastTriggeredAt) < time.Hour
	case model.FreqDaily:
		return rule.LastTriggeredAt != nil && now.Sub(*rule.LastTriggeredAt) < 24*time.Hour
	}
	return false
}
