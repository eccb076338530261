// Package simple contains permissive policy implementations.
package simple

// Policy admits every request. It stands in for the rate limiter when
// limiting is disabled.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Allow always returns true.
func (Policy) Allow(string) bool {
	return true
}
