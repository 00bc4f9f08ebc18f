package store

import (
	"sync"

	"github.com/o2lab/fpcf/internal/entity"
	"github.com/o2lab/fpcf/internal/lattice"
	"github.com/o2lab/fpcf/internal/result"
)

// epkState is the mutable, per-(entity, kind) state described in spec.md
// §3/§4.2. Every field is guarded by mu; callers outside this file must
// never read or write a field directly.
type epkState struct {
	mu sync.Mutex

	current     lattice.EOptionP
	c           result.Continuation
	dependees   map[entity.Key]lattice.EOptionP
	dependers   map[entity.Key]struct{}
	lazyStarted bool
}

// tryStartLazy returns true exactly once per state: the first caller that
// observes the fresh EPK and is responsible for kicking off the kind's
// registered lazy producer. Later concurrent callers get false and simply
// read whatever the producer has made visible so far.
func (s *epkState) tryStartLazy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lazyStarted {
		return false
	}
	s.lazyStarted = true
	return true
}

func newEPKState(e entity.Entity, k lattice.KindID) *epkState {
	return &epkState{current: lattice.EPK(e, k)}
}

// equivalent treats two EOptionP values as the same "extension" iff they
// have the same shape and, where present, semantically equal bounds. The
// store never copies a Property after installing it, so this stands in for
// the source's reference-equality check on the CAS in addDepender.
func equivalent(a, b lattice.EOptionP) bool {
	if a.IsFinal() != b.IsFinal() {
		return false
	}
	aLB, aHasLB := a.LowerBound()
	bLB, bHasLB := b.LowerBound()
	if aHasLB != bHasLB || (aHasLB && !aLB.Equal(bLB)) {
		return false
	}
	aUB, aHasUB := a.UpperBound()
	bUB, bHasUB := b.UpperBound()
	if aHasUB != bHasUB || (aHasUB && !aUB.Equal(bUB)) {
		return false
	}
	return true
}

// snapshot returns the currently visible extension.
func (s *epkState) snapshot() lattice.EOptionP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// update installs newP if it strictly refines the current extension.
// Returns the depender keys to notify (suppression already applied), the
// previous extension, and whether an update actually happened.
//
// update checks IsUpdated itself, under the lock, so callers need not
// check it first.
func (s *epkState) update(newP lattice.EOptionP, c result.Continuation, dependees map[entity.Key]lattice.EOptionP, suppress SuppressionMatrix) (toNotify []entity.Key, old lattice.EOptionP, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.IsFinal() {
		fatalf("epkState.update", "attempted to update final state for %s", s.current.E)
	}
	if !lattice.IsUpdated(newP, s.current) {
		return nil, s.current, false
	}

	old = s.current
	s.current = newP
	s.c = c
	s.dependees = dependees

	toNotify = make([]entity.Key, 0, len(s.dependers))
	for depKey := range s.dependers {
		if suppress.Suppressed(depKey.K, newP.K) {
			continue // stays attached; woken only by a later final update.
		}
		toNotify = append(toNotify, depKey)
	}
	return toNotify, old, true
}

// applyPartial runs u under the state lock (spec.md §4.3, "Partial
// results"). If u returns a final value the transition is treated exactly
// like finalUpdate (c/dependees cleared, every depender unsuppressed);
// otherwise it behaves like update, with suppression applied.
func (s *epkState) applyPartial(u result.UpdateFunc, suppress SuppressionMatrix) (toNotify []entity.Key, newP lattice.EOptionP, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.IsFinal() {
		fatalf("epkState.applyPartial", "attempted to update final state for %s", s.current.E)
	}
	candidate, ok := u(s.current)
	if !ok || !lattice.IsUpdated(candidate, s.current) {
		return nil, s.current, false
	}
	s.current = candidate
	toNotify = make([]entity.Key, 0, len(s.dependers))
	if candidate.IsFinal() {
		for depKey := range s.dependers {
			toNotify = append(toNotify, depKey)
		}
		s.c = nil
		s.dependees = nil
		s.dependers = nil
	} else {
		for depKey := range s.dependers {
			if suppress.Suppressed(depKey.K, candidate.K) {
				continue
			}
			toNotify = append(toNotify, depKey)
		}
	}
	return toNotify, candidate, true
}

// finalUpdate installs a sealed value, clears the continuation and
// dependees, and returns a snapshot of the dependers to notify (never
// suppressed: finals always wake every depender per spec.md §4.3).
func (s *epkState) finalUpdate(newFinal lattice.EOptionP) []entity.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.IsFinal() {
		fatalf("epkState.finalUpdate", "attempted to finalize an already-final state for %s", s.current.E)
	}
	s.current = newFinal
	s.c = nil
	s.dependees = nil
	snap := make([]entity.Key, 0, len(s.dependers))
	for depKey := range s.dependers {
		snap = append(snap, depKey)
	}
	s.dependers = nil
	return snap
}

// addDepender attempts to attach dependerKey as a depender of this state,
// succeeding only if the caller's view of the current extension is still
// current (or, with alwaysExceptIfFinal, as long as the state isn't final
// yet). A final state never takes a depender, since it will never notify
// one. Returns false when the state has moved on since the caller read
// it, or is final — the standard signal (spec.md §4.3 step 3) that the
// caller should invoke its continuation immediately with that value instead.
func (s *epkState) addDepender(expected lattice.EOptionP, dependerKey entity.Key, alwaysExceptIfFinal bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.IsFinal() {
		return false
	}
	if !alwaysExceptIfFinal && !equivalent(s.current, expected) {
		return false
	}
	if s.dependers == nil {
		s.dependers = make(map[entity.Key]struct{})
	}
	s.dependers[dependerKey] = struct{}{}
	return true
}

// removeDepender detaches a previously-added depender.
func (s *epkState) removeDepender(dependerKey entity.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dependers, dependerKey)
}

// installContinuationOnly attaches c/dependees without changing the
// current extension, for InterimPartialResult (spec.md §4.3), which
// carries no value of its own.
func (s *epkState) installContinuationOnly(c result.Continuation, dependees map[entity.Key]lattice.EOptionP) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current.IsFinal() {
		fatalf("epkState.installContinuationOnly", "attempted to attach a continuation to a final state for %s", s.current.E)
	}
	s.c = c
	s.dependees = dependees
}

// clearDependees drops the recorded dependee set, e.g. once a continuation
// has been consumed and the depender is expected to re-register on its
// next interim result.
func (s *epkState) clearDependees() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dependees = nil
}

// prepareInvokeC detaches and returns the pending continuation iff one is
// installed and updatedDependee belongs to the currently-declared
// dependees. Returning ok=false means another notifier already consumed
// it — at most one continuation per depender may run at a time (spec.md
// §5).
func (s *epkState) prepareInvokeC(updatedDependee lattice.EOptionP) (result.Continuation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil, false
	}
	depKey := entity.Key{E: updatedDependee.E, K: updatedDependee.K}
	if _, waiting := s.dependees[depKey]; !waiting {
		return nil, false
	}
	c := s.c
	s.c = nil
	return c, true
}

// isCurrentC reports whether c is still the installed continuation. It
// exists for tests and diagnostics that want to assert a continuation
// hasn't already been consumed by a racing notifier.
func (s *epkState) isCurrentC(c result.Continuation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return funcsEqual(s.c, c)
}

// dependeeSnapshot copies the currently-declared dependee set, for checking
// the "conservation of dependees" invariant.
func (s *epkState) dependeeSnapshot() map[entity.Key]lattice.EOptionP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[entity.Key]lattice.EOptionP, len(s.dependees))
	for k, v := range s.dependees {
		out[k] = v
	}
	return out
}
