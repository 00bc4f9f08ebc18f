// Package result defines the taxonomy of values an analysis's computation
// function can hand back to the update engine (spec.md §4.3).
package result

import (
	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
)

// PropertyComputation is the function signature every eager, lazy or
// triggered analysis registration supplies. It is invoked with the entity
// alone; updates of a dependee are delivered to a Continuation instead.
type PropertyComputation func(e entity.Entity) Result

// Continuation is called when a dependee this computation is waiting on
// produces a new value. It must not touch EPKStates directly (spec.md §5);
// it may only read through the façade and return a new Result.
type Continuation func(updatedDependee lattice.EOptionP) Result

// UpdateFunc is the read-modify-write function passed to PartialResult. It
// receives the current EOptionP (which may be an EPK on first use) and
// returns the new one, or ok=false to signal a no-op.
type UpdateFunc func(current lattice.EOptionP) (next lattice.EOptionP, ok bool)

// Result is the sealed taxonomy of values a computation or continuation may
// return. Exactly one of the concrete types below satisfies it.
type Result interface {
	isResult()
}

// Final wraps a single, immediately-stable property for one entity.
type Final struct {
	EP lattice.EOptionP // must be IsFinal()
}

func (Final) isResult() {}

// Results batches several Results together; the update engine integrates
// them in order, one after another. The batch is not atomic: results from
// other workers may be integrated between its items.
type Results struct {
	Items []Result
}

func (Results) isResult() {}

// Interim carries a refinable value plus the set of dependees the
// computation is waiting on and the continuation to invoke when any of
// them updates.
type Interim struct {
	EP        lattice.EOptionP // IsRefinable()
	Dependees []lattice.EOptionP
	C         Continuation
}

func (Interim) isResult() {}

// Partial is a monotone read-modify-write on a single entity's property,
// used for collaborative derivation where several analyses each contribute
// part of the value. It never attaches a continuation.
type Partial struct {
	E      entity.Entity
	K      lattice.KindID
	Update UpdateFunc
}

func (Partial) isResult() {}

// InterimPartial carries no value of its own — only dependees and a
// continuation, e.g. to observe another computation's progress without
// contributing a property. E/K identify which entity's collaboratively
// derived property this continuation is registered against.
type InterimPartial struct {
	E         entity.Entity
	K         lattice.KindID
	Dependees []lattice.EOptionP
	C         Continuation
}

func (InterimPartial) isResult() {}

// Multi is a convenience batch of Final results.
type Multi struct {
	Finals []Final
}

func (Multi) isResult() {}

// None means the analysis has nothing to contribute for this entity in
// this phase.
type None struct{}

func (None) isResult() {}
