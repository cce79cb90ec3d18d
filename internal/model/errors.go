package model

import "strings"

// ValidationError carries every constraint violation found while checking an
// input, one human-readable message per violation. Callers always collect all
// applicable messages before returning, never failing fast on the first.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "\n")
}
