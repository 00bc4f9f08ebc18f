package store

import "reflect"

// funcsEqual compares two function values by their code pointer, so two
// closures created from the same function literal compare equal even when
// they capture different values. Telling closure instances apart would need
// an explicit id threaded through every Continuation, which would leak into
// the public result.Continuation signature; the code-pointer comparison is
// enough for this diagnostic-only check.
func funcsEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
