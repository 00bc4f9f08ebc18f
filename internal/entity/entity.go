// Package entity defines the opaque entity handles the property store
// reasons about. The store never inspects an entity's structure: classes,
// methods, fields, statements and allocation sites are all just references
// supplied by whatever built the entity universe (an SSA program, a
// bytecode reader, a test harness).
package entity

import "fmt"

// Entity is an opaque, reference-identity handle to a program element.
// Two entities are the same iff they are the same Go value under ==, which
// is why callers should always store and pass pointers (or other
// comparable reference types) rather than values that could be copied.
type Entity interface {
	// String returns a diagnostic label; it plays no role in identity.
	String() string
}

// Key identifies one (entity, property-kind) pair inside the store. It is
// comparable so it can be a map key.
type Key struct {
	E Entity
	K KindID
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%s", k.E, k.K)
}

// KindID is the dense integer id assigned to a property kind at
// registration time.
type KindID int

func (k KindID) String() string {
	return fmt.Sprintf("kind#%d", int(k))
}

// Named is a string used directly as an entity, so ad-hoc entities (test
// cases, simple string ids) can be used without writing a wrapper type each
// time. Two Named entities are the same iff their strings are equal.
type Named string

func (n Named) String() string { return string(n) }

// Ptr wraps a *T so it satisfies Entity by rendering its pointer address in
// String while keeping reference identity, e.g. for *ssa.Function handles.
type Ptr[T any] struct {
	Value *T
	Label string
}

func (p Ptr[T]) String() string {
	if p.Label != "" {
		return p.Label
	}
	return fmt.Sprintf("%p", p.Value)
}
