// Package runctx holds the per-run in-memory context the Run Executor
// (C8) publishes resolved responses into, and the dotted-path selector
// evaluator used to pull values back out of them.
package runctx

import "strings"

// SelectPath steps through body's nested maps following the dot-joined
// path, returning nil as soon as any segment is missing or an
// intermediate value is not itself an object. This is the Evaluator
// contract from the design notes: split on ".", step through object
// keys, return nil on any missing step.
func SelectPath(body any, path string) any {
	if path == "" {
		return body
	}
	segments := strings.Split(path, ".")
	current := body
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := m[seg]
		if !ok {
			return nil
		}
		current = v
	}
	return current
}
