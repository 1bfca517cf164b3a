package pack

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a key absent from a pack or store. Callers match it
// with errors.Is; the wrapped message carries the key that missed.
var ErrNotFound = errors.New("key not found")

// ErrWriterClosed reports an Add after Close or Abort on a pack writer.
var ErrWriterClosed = errors.New("pack writer is closed")

// NotFound wraps ErrNotFound with the key that was asked for.
func NotFound(name string, node Node) error {
	return fmt.Errorf("%q@%s: %w", name, node, ErrNotFound)
}

// CorruptError reports a structurally broken pack file. It is fatal for the
// pack that raised it: readers refuse to serve from a corrupt file.
type CorruptError struct {
	Path   string
	Reason string
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt pack %s: %s", e.Path, e.Reason)
}

// Corruptf builds a CorruptError with a formatted reason.
func Corruptf(path, format string, args ...any) *CorruptError {
	return &CorruptError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// IsCorrupt reports whether any error in err's chain is a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}
