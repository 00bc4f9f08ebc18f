package store

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/telemetry"
)

// task is one unit of work the worker pool executes: either an initial
// computation for a freshly-scheduled entity, or a continuation woken by a
// dependee update. run must be side-effect free except through its return
// value; it is invoked with panics recovered by the caller.
type task struct {
	run   func() result.Result
	label string
}

// engine is the dependency graph & update engine, spec.md §4.3: it
// processes computation results, applies monotone updates, walks forward
// and reverse edges, enqueues continuations, and detects quiescence.
type engine struct {
	registry *lattice.Registry
	states   *stateMap
	log      *logrus.Entry
	debug    bool
	metrics  *telemetry.Metrics

	queue   chan task
	workers int
	quit    chan struct{}
	wg      sync.WaitGroup // outstanding (queued + executing) units of work

	// sem bounds synchronous lazy-producer fan-out so a burst of concurrent
	// Get/Force calls can't oversubscribe past the configured parallelism.
	// Every synchronous lazy start-up holds one slot while it runs, whether
	// it was called from a pool worker or from an external caller.
	sem *semaphore.Weighted

	phase        PhaseConfig
	runID        string
	deadlineDone chan struct{}

	lazyProducers      map[lattice.KindID]result.PropertyComputation
	triggeredProducers map[lattice.KindID][]result.PropertyComputation

	canceled atomic.Bool
	failed   atomic.Bool

	errMu sync.Mutex
	errs  []error
}

func newEngine(reg *lattice.Registry, workers int, debugMode bool, log *logrus.Entry, metrics *telemetry.Metrics) *engine {
	if workers < 1 {
		workers = 1
	}
	e := &engine{
		registry:           reg,
		states:             newStateMap(),
		log:                log,
		debug:              debugMode,
		metrics:            metrics,
		queue:              make(chan task, 4096),
		workers:            workers,
		quit:               make(chan struct{}),
		sem:                semaphore.NewWeighted(int64(workers)),
		lazyProducers:      make(map[lattice.KindID]result.PropertyComputation),
		triggeredProducers: make(map[lattice.KindID][]result.PropertyComputation),
	}
	for i := 0; i < workers; i++ {
		go e.workerLoop()
	}
	return e
}

func (e *engine) workerLoop() {
	for {
		select {
		case <-e.quit:
			return
		case t, ok := <-e.queue:
			if !ok {
				return
			}
			e.execute(t)
		}
	}
}

// shutdown stops the worker goroutines. Safe to call once the owning store
// is done with the engine (tests use this to satisfy goleak).
func (e *engine) shutdown() {
	close(e.quit)
}

func (e *engine) execute(t task) {
	defer e.wg.Done()
	res := e.safeRun(t.run, t.label)
	if res != nil {
		e.integrate(res)
	}
}

// safeRun executes fn with panic containment per spec.md §7: a panic marks
// the phase failed, raises cancellation, and is recorded as an
// AnalysisError. Returns nil on panic so the caller skips integration.
func (e *engine) safeRun(fn func() result.Result, label string) (res result.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.recordFailure(&AnalysisError{Entity: label, Panic: r, Stack: debug.Stack()})
			res = nil
		}
	}()
	return fn()
}

func (e *engine) recordFailure(err error) {
	e.failed.Store(true)
	e.canceled.Store(true)
	e.errMu.Lock()
	e.errs = append(e.errs, err)
	e.errMu.Unlock()
	e.log.WithError(err).Error("analysis panic")
}

// submit enqueues a unit of work. No-op once the phase has been canceled
// (cooperative cancellation per spec.md §5).
func (e *engine) submit(run func() result.Result, label string) {
	if e.canceled.Load() {
		return
	}
	e.wg.Add(1)
	e.queue <- task{run: run, label: label}
}

// runSync executes fn directly on the calling goroutine, gated by sem so a
// burst of external Get/Force calls can't exceed the configured
// parallelism. Used for lazy-producer start-up (spec.md §4.4, "start it
// synchronously").
func (e *engine) runSync(ctx context.Context, fn func() result.Result, label string) {
	if e.canceled.Load() {
		return
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	e.wg.Add(1)
	defer e.wg.Done()
	defer e.sem.Release(1)
	res := e.safeRun(fn, label)
	if res != nil {
		e.integrate(res)
	}
}

// integrate dispatches a Result to its processing rule per the taxonomy in
// spec.md §4.3.
func (e *engine) integrate(r result.Result) {
	switch v := r.(type) {
	case result.Final:
		e.processFinal(v.EP)
	case result.Results:
		for _, item := range v.Items {
			e.integrate(item)
		}
	case result.Multi:
		for _, f := range v.Finals {
			e.processFinal(f.EP)
		}
	case result.Interim:
		e.processInterim(v)
	case result.Partial:
		e.processPartial(v)
	case result.InterimPartial:
		e.processInterimPartial(v)
	case result.None:
		// nothing to contribute.
	default:
		e.log.Warnf("store: unknown result type %T ignored", r)
	}
}

// armDeadline starts a timer that raises cancellation (spec.md §5, wall-
// clock deadline expiry) if the phase is still running when deadline
// elapses. A zero deadline disarms any previously-running timer without
// starting a new one. Safe to call once per SetupPhase.
func (e *engine) armDeadline(deadline time.Time) {
	if e.deadlineDone != nil {
		close(e.deadlineDone)
		e.deadlineDone = nil
	}
	if deadline.IsZero() {
		return
	}
	done := make(chan struct{})
	e.deadlineDone = done
	name := e.phase.Name
	go func() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		select {
		case <-timer.C:
			e.log.WithField("phase", name).Warn("phase deadline expired; cancelling")
			e.canceled.Store(true)
		case <-done:
		}
	}()
}

func (e *engine) checkActive(k lattice.KindID) {
	if !e.phase.isActive(k) {
		fatalf("engine", "kind %s is not active in phase %q", e.registry.Kind(k).Name, e.phase.Name)
	}
}

func (e *engine) processFinal(ep lattice.EOptionP) {
	if e.debug {
		e.checkActive(ep.K)
	}
	key := entity.Key{E: ep.E, K: ep.K}
	state, created := e.states.getOrCreate(key)
	if e.debug {
		if old := state.snapshot(); !old.IsEPK() && !created {
			if err := lattice.CheckIsValidUpdate(e.registry.Kind(ep.K), old, ep); err != nil {
				fatalf("engine.processFinal", "%v", err)
			}
		}
	}
	e.fireTriggersIfFresh(key, created)
	dependerKeys := state.finalUpdate(ep)
	e.observeKindCount(ep.K)
	e.observeFinalized("producer")
	for _, dk := range dependerKeys {
		e.notify(dk, ep)
	}
}

func (e *engine) processInterim(v result.Interim) {
	if e.debug {
		e.checkActive(v.EP.K)
	}
	key := entity.Key{E: v.EP.E, K: v.EP.K}
	state, created := e.states.getOrCreate(key)
	e.fireTriggersIfFresh(key, created)

	dependeesMap := make(map[entity.Key]lattice.EOptionP, len(v.Dependees))
	for _, d := range v.Dependees {
		dependeesMap[entity.Key{E: d.E, K: d.K}] = d
	}

	toNotify, _, changed := state.update(v.EP, v.C, dependeesMap, e.phase.Suppress)
	if !changed {
		return
	}
	e.observeKindCount(v.EP.K)

	// Register this depender on each declared dependee; a dependee that
	// has already moved on races with registration, so invoke c right away
	// with the fresher value instead (spec.md §4.3 step 3).
	for _, d := range v.Dependees {
		dKey := entity.Key{E: d.E, K: d.K}
		dState, _ := e.states.getOrCreate(dKey)
		if !dState.addDepender(d, key, false) {
			fresh := dState.snapshot()
			e.submit(func() result.Result { return v.C(fresh) }, key.String())
		}
	}

	for _, dk := range toNotify {
		e.notify(dk, v.EP)
	}
}

func (e *engine) processPartial(v result.Partial) {
	if e.debug {
		e.checkActive(v.K)
	}
	key := entity.Key{E: v.E, K: v.K}
	state, created := e.states.getOrCreate(key)
	toNotify, newP, changed := state.applyPartial(v.Update, e.phase.Suppress)
	if !changed {
		return
	}
	e.fireTriggersIfFresh(key, created)
	e.observeKindCount(v.K)
	if newP.IsFinal() {
		e.observeFinalized("producer")
	}
	for _, dk := range toNotify {
		e.notify(dk, newP)
	}
}

func (e *engine) processInterimPartial(v result.InterimPartial) {
	key := entity.Key{E: v.E, K: v.K}
	state, _ := e.states.getOrCreate(key)
	current := state.snapshot()
	dependeesMap := make(map[entity.Key]lattice.EOptionP, len(v.Dependees))
	for _, d := range v.Dependees {
		dependeesMap[entity.Key{E: d.E, K: d.K}] = d
	}
	// InterimPartial carries no value, and update() would treat the
	// unchanged extension as no update at all, so c/dependees are installed
	// directly.
	state.installContinuationOnly(v.C, dependeesMap)
	_ = current
	for _, d := range v.Dependees {
		dKey := entity.Key{E: d.E, K: d.K}
		dState, _ := e.states.getOrCreate(dKey)
		if !dState.addDepender(d, key, false) {
			fresh := dState.snapshot()
			e.submit(func() result.Result { return v.C(fresh) }, key.String())
		}
	}
}

func (e *engine) notify(dependerKey entity.Key, updated lattice.EOptionP) {
	depState, ok := e.states.get(dependerKey)
	if !ok {
		return
	}
	c, ok := depState.prepareInvokeC(updated)
	if !ok {
		return // another notifier already consumed it, or none is pending.
	}
	e.submit(func() result.Result { return c(updated) }, dependerKey.String())
}

func (e *engine) fireTriggersIfFresh(key entity.Key, created bool) {
	if !created {
		return
	}
	fns := e.triggeredProducers[key.K]
	for _, fn := range fns {
		fn := fn
		ent := key.E
		e.submit(func() result.Result { return fn(ent) }, key.String())
	}
}

func (e *engine) observeKindCount(k lattice.KindID) {
	if e.metrics != nil {
		e.metrics.ObserveUpdate(e.registry.Kind(k).Name)
	}
}

// waitOnPhaseCompletion blocks until quiescence, then runs fallback and
// cycle-resolution passes (spec.md §4.3) until no refinable state remains,
// re-checking quiescence after each pass since resolving one state can
// spawn continuations that touch others. Skipped entirely if the phase was
// canceled: refinable states are left exactly as they are.
func (e *engine) waitOnPhaseCompletion() error {
	e.wg.Wait()
	if !e.canceled.Load() {
		for e.resolveOnce() {
			e.wg.Wait()
		}
	}
	if e.deadlineDone != nil {
		close(e.deadlineDone)
		e.deadlineDone = nil
	}
	e.log.WithFields(logrus.Fields{"phase": e.phase.Name, "run_id": e.runID}).Info("phase reached quiescence")
	e.errMu.Lock()
	defer e.errMu.Unlock()
	if len(e.errs) > 0 {
		return fmt.Errorf("fpcf: phase %q (run %s) failed with %d error(s): %w", e.phase.Name, e.runID, len(e.errs), e.errs[0])
	}
	return nil
}

// resolveOnce installs fallbacks for every never-touched-but-reachable EPK
// and, once no EPK is left, promotes every still-refinable interim to final
// via its kind's cycle-resolution strategy. Dependers are notified only
// after the whole pass, so no continuation runs while states are being
// sealed. Returns whether anything changed, so the caller can re-settle
// quiescence and try again.
func (e *engine) resolveOnce() bool {
	changed := false
	fallbackOnly := false
	e.states.forEach(func(_ entity.Key, s *epkState) {
		if s.snapshot().IsEPK() {
			fallbackOnly = true
		}
	})
	var wakes []func()
	e.states.forEach(func(key entity.Key, s *epkState) {
		snap := s.snapshot()
		if snap.IsFinal() || (fallbackOnly && !snap.IsEPK()) {
			return
		}
		kind := e.registry.Kind(key.K)
		var final lattice.EOptionP
		if snap.IsEPK() {
			final = lattice.FinalEP(key.E, key.K, kind.Fallback)
		} else {
			ub, ok := snap.UpperBound()
			if !ok {
				ub = kind.Fallback
			}
			final = lattice.FinalEP(key.E, key.K, kind.CycleResolve(ub))
		}
		dependerKeys := s.finalUpdate(final)
		changed = true
		if snap.IsEPK() {
			e.observeFinalized("fallback")
		} else {
			e.observeFinalized("cycle-resolution")
		}
		wakes = append(wakes, func() {
			for _, dk := range dependerKeys {
				e.notify(dk, final)
			}
		})
	})
	for _, wake := range wakes {
		wake()
	}
	return changed
}

func (e *engine) observeFinalized(reason string) {
	if e.metrics != nil {
		e.metrics.ObserveFinalized(reason)
	}
}
