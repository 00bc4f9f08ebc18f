package store

import "fmt"

// FatalError marks a programmer error per spec.md §7: a non-monotone
// update, a mutation of a final state, a duplicate lazy producer, a read
// of a kind outside the current phase, or a missing manifest entry. These
// are always bugs in an analysis or its scheduler manifest, never
// something a caller can recover from, so the store panics with this type
// rather than returning it — callers that want to convert the panic back
// into an error (e.g. a CLI entry point) can recover and type-assert.
type FatalError struct {
	Op  string
	Msg string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fpcf: fatal: %s: %s", e.Op, e.Msg)
}

func fatalf(op, format string, args ...any) {
	panic(&FatalError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// AnalysisError wraps a panic recovered from inside a worker's
// continuation or computation function (spec.md §7, "Analysis errors").
// It is surfaced, non-fatal: the phase is marked failed and canceled, so
// work already queued still runs but no new work is accepted.
type AnalysisError struct {
	Entity string
	Kind   string
	Panic  any
	Stack  []byte
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("fpcf: analysis panic while computing %s for %s: %v", e.Kind, e.Entity, e.Panic)
}

// ConfigError marks a configuration error surfaced at startup: an unknown
// kind in the suppression matrix, or an inconsistent phase partitioning.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "fpcf: configuration error: " + e.Msg }
