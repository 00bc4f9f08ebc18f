// Package store implements the Entity-Property State Map, the dependency
// graph & update engine, and the public property-store façade described in
// spec.md §3-§4. It is the core of the framework: everything else
// (analyses, scheduler) is a client of PropertyStore.
package store

import (
	"context"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
	"github.com/o2lab/fpcf/internal/telemetry"
)

// PropertyStore is the user-visible API described in spec.md §4.4: reading
// properties, registering lazy/eager/triggered computations, running a
// phase, and waiting for completion.
type PropertyStore struct {
	registry *lattice.Registry
	engine   *engine
	log      *logrus.Entry
}

// Options configures a PropertyStore at construction.
type Options struct {
	Workers  int // zero or negative: one worker per CPU
	Debug    bool
	Log      *logrus.Entry
	Metrics  *telemetry.Metrics
}

// New constructs a PropertyStore over reg. No phase is active until
// SetupPhase is called.
func New(reg *lattice.Registry, opts Options) *PropertyStore {
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &PropertyStore{
		registry: reg,
		engine:   newEngine(reg, workers, opts.Debug, opts.Log, opts.Metrics),
		log:      opts.Log,
	}
}

// Close stops the store's worker goroutines. Call once the store will no
// longer be used, e.g. at the end of a test, so goroutine-leak checks pass.
func (s *PropertyStore) Close() { s.engine.shutdown() }

// SetupPhase installs the set of kinds active in the upcoming phase,
// together with their suppression matrix. Must be called before any
// computation is scheduled (spec.md §4.4).
func (s *PropertyStore) SetupPhase(cfg PhaseConfig) error {
	for k := range cfg.ActiveKinds {
		if int(k) < 0 || int(k) >= s.registry.Len() {
			return &ConfigError{Msg: "unknown property kind in phase " + cfg.Name}
		}
	}
	runID := uuid.NewString()
	s.engine.phase = cfg
	s.engine.runID = runID
	s.engine.canceled.Store(false)
	s.engine.failed.Store(false)
	s.engine.errs = nil
	s.engine.lazyProducers = make(map[lattice.KindID]result.PropertyComputation)
	s.engine.triggeredProducers = make(map[lattice.KindID][]result.PropertyComputation)
	s.engine.armDeadline(cfg.Deadline)
	s.log.WithFields(logrus.Fields{"phase": cfg.Name, "run_id": runID}).Info("phase set up")
	return nil
}

// Get reads the current EOptionP for (e, k). If no state exists yet and k
// has a registered lazy producer, the producer is started synchronously
// and the freshly-seeded value (EPK or the producer's first interim) is
// returned; otherwise a fresh EPK is created and returned.
//
// Reading a kind not declared in the current phase panics with FatalError
// when the store runs in debug mode (spec.md §4.4); in production mode it
// is allowed, matching the source's looser runtime behavior outside tests.
func (s *PropertyStore) Get(ctx context.Context, e entity.Entity, k lattice.KindID) lattice.EOptionP {
	if s.engine.debug {
		s.engine.checkActive(k)
	}
	return s.get(ctx, e, k)
}

func (s *PropertyStore) get(ctx context.Context, e entity.Entity, k lattice.KindID) lattice.EOptionP {
	key := entity.Key{E: e, K: k}
	state, _ := s.engine.states.getOrCreate(key)
	if fn, ok := s.engine.lazyProducers[k]; ok && state.tryStartLazy() {
		s.engine.runSync(ctx, func() result.Result { return fn(e) }, key.String())
	}
	return state.snapshot()
}

// Force ensures a value will eventually be computed for (e, k), triggering
// a lazy producer even if nothing has read the entity yet.
func (s *PropertyStore) Force(ctx context.Context, e entity.Entity, k lattice.KindID) {
	s.get(ctx, e, k)
}

// ScheduleEagerComputationForEntity enqueues fn(e); its Result passes
// through the update engine exactly like any other.
func (s *PropertyStore) ScheduleEagerComputationForEntity(e entity.Entity, fn result.PropertyComputation) {
	s.engine.submit(func() result.Result { return fn(e) }, e.String())
}

// ScheduleEagerComputationsForEntities is the bulk form.
func (s *PropertyStore) ScheduleEagerComputationsForEntities(es []entity.Entity, fn result.PropertyComputation) {
	for _, e := range es {
		s.ScheduleEagerComputationForEntity(e, fn)
	}
}

// RegisterLazyPropertyComputation registers fn as the at-most-one lazy
// producer for kind k. A second registration for the same kind is fatal.
func (s *PropertyStore) RegisterLazyPropertyComputation(k lattice.KindID, fn result.PropertyComputation) {
	if _, exists := s.engine.lazyProducers[k]; exists {
		fatalf("RegisterLazyPropertyComputation", "duplicate lazy producer for kind %s", s.registry.Kind(k).Name)
	}
	s.engine.lazyProducers[k] = fn
}

// RegisterTriggeredComputation registers fn to run at most once per entity:
// when a final, interim or partial result is what first creates the state
// for (entity, k). If that state was first created by a read (Get/Force),
// by being named as a dependee, or by a partial result that changed
// nothing, fn does not run for that entity.
func (s *PropertyStore) RegisterTriggeredComputation(k lattice.KindID, fn result.PropertyComputation) {
	s.engine.triggeredProducers[k] = append(s.engine.triggeredProducers[k], fn)
}

// WaitOnPhaseCompletion blocks until quiescence, fallback installation and
// cycle resolution have all completed, and returns any analysis error
// surfaced during the phase.
func (s *PropertyStore) WaitOnPhaseCompletion() error {
	return s.engine.waitOnPhaseCompletion()
}

// Cancel raises the phase-level cancellation flag. Work already in the
// queue still runs and its results are integrated, but no new computation
// or continuation is accepted, and WaitOnPhaseCompletion leaves refinable
// states exactly as they are (spec.md §5).
func (s *PropertyStore) Cancel() {
	s.engine.canceled.Store(true)
}

// Failed reports whether the phase was marked failed by an analysis panic.
func (s *PropertyStore) Failed() bool { return s.engine.failed.Load() }

// Entities returns a snapshot of every EOptionP of kind k currently known
// to the store. Call after WaitOnPhaseCompletion for a stable view.
func (s *PropertyStore) Entities(k lattice.KindID) []lattice.EOptionP {
	var out []lattice.EOptionP
	s.engine.states.forEachOfKind(k, func(_ entity.Key, st *epkState) {
		out = append(out, st.snapshot())
	})
	return out
}

// Registry exposes the property-kind registry the store was built over.
func (s *PropertyStore) Registry() *lattice.Registry { return s.registry }
