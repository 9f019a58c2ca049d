// Package hints labels errors that mean "nothing to do" rather than "failed":
// no snapshots beyond the retention count, log archiving switched off, no
// hook commands configured. Callers skip a step on a hint and keep going;
// IsHint recognizes one anywhere in a wrapped chain.
package hints

import "errors"

type hintErr struct {
	msg string
}

func (h *hintErr) Error() string { return h.msg }
func (h *hintErr) IsHint() bool  { return true }

// New creates a hint. Compare against it with errors.Is.
func New(msg string) error {
	return &hintErr{msg: msg}
}

// IsHint reports whether any error in the chain is a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}
