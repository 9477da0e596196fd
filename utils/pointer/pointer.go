package pointer

// To returns a pointer to the given value.
// Useful for SDK inputs that take pointers to primitives (e.g., pointer.To(int32(5))).
func To[T any](v T) *T {
	return &v
}
