package store

import (
	"time"

	"github.com/o2lab/fpcf/internal/lattice"
)

// SuppressionMatrix is the 2-D boolean table declared by the scheduler for
// a phase: suppress[dependerKind][dependeeKind] == true means interim
// updates to dependeeKind must not wake dependers of dependerKind
// (spec.md §4.3). Final updates are never suppressed.
type SuppressionMatrix struct {
	entries map[[2]lattice.KindID]bool
}

// NewSuppressionMatrix returns an empty matrix (nothing suppressed).
func NewSuppressionMatrix() SuppressionMatrix {
	return SuppressionMatrix{entries: make(map[[2]lattice.KindID]bool)}
}

// Suppress marks that interim updates to dependeeKind must not wake
// dependers of dependerKind.
func (m SuppressionMatrix) Suppress(dependerKind, dependeeKind lattice.KindID) {
	m.entries[[2]lattice.KindID{dependerKind, dependeeKind}] = true
}

// Suppressed reports whether the pair is marked in the matrix.
func (m SuppressionMatrix) Suppressed(dependerKind, dependeeKind lattice.KindID) bool {
	if m.entries == nil {
		return false
	}
	return m.entries[[2]lattice.KindID{dependerKind, dependeeKind}]
}

// Role describes how a kind is produced during a phase.
type Role int

const (
	// RoleNone means the kind is declared active (readable) but has no
	// producer registered in this phase; entities of this kind receive the
	// fallback once quiescence is reached.
	RoleNone Role = iota
	RoleEager
	RoleLazy
	RoleCollaborative
)

// PhaseConfig installs the set of kinds active in a phase, per spec.md
// §4.4 setupPhase. Reading a kind not present in ActiveKinds is a
// programmer error.
type PhaseConfig struct {
	Name        string
	ActiveKinds map[lattice.KindID]Role
	Suppress    SuppressionMatrix
	Deadline    time.Time // zero means no deadline
}

func (p PhaseConfig) isActive(k lattice.KindID) bool {
	_, ok := p.ActiveKinds[k]
	return ok
}
