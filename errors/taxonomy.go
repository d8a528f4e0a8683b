package errors

import (
	"fmt"
	"strings"
)

// Schemaf returns an error marked as ErrSchema.
func Schemaf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrSchema)
}

// Transformf returns an error marked as ErrTransform.
func Transformf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrTransform)
}

// UnsupportedFormat reports a file or output format nobody handles.
func UnsupportedFormat(format string) error {
	return Mark(Newf("unsupported format %q", format), ErrUnsupportedFormat)
}

// ValidationError lists every rule an input dataset broke. It is returned
// before any inference work starts.
type ValidationError struct {
	Source     string
	Violations []string
}

func (e *ValidationError) Error() string {
	head := "validation failed"
	if e.Source != "" {
		head = fmt.Sprintf("validation failed for %s", e.Source)
	}
	if len(e.Violations) == 0 {
		return head
	}
	return fmt.Sprintf("%s: %s", head, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// WorkerFailure is the error a run aborts with when one chunk fails.
type WorkerFailure struct {
	BatchID    string
	ChunkIndex int
	Cause      error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("batch %s: chunk %d failed: %v", e.BatchID, e.ChunkIndex, e.Cause)
}

func (e *WorkerFailure) Unwrap() error { return e.Cause }

func (e *WorkerFailure) Is(target error) bool { return target == ErrWorkerFailure }
