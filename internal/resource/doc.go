// Package resource accounts for the memory held by the state cache and
// throttles snapshot IO.
package resource
