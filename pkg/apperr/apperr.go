// Package apperr classifies failures so callers can decide whether an error
// rejects a request, fails a single job, degrades output, or aborts the process.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindInput is a request that can never succeed as submitted. Rejected synchronously.
	KindInput Kind = iota + 1
	// KindProcessing is a collaborator failure (detector, OCR, translator). Fails the job.
	KindProcessing
	// KindRender is a degraded rendering condition. Logged, never fatal.
	KindRender
	// KindAssembly is an inconsistency while building the final document. Fails the job.
	KindAssembly
	// KindPersistence means the registry is unavailable. Fatal to the process.
	KindPersistence
	// KindNotFound is an unknown job or artifact.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindProcessing:
		return "processing"
	case KindRender:
		return "render"
	case KindAssembly:
		return "assembly"
	case KindPersistence:
		return "persistence"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	// Op names the operation that failed. E.g., "jobs.Submit"
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Input(op string, format string, args ...any) error {
	return &Error{Kind: KindInput, Op: op, Err: fmt.Errorf(format, args...)}
}

func Processing(op string, format string, args ...any) error {
	return &Error{Kind: KindProcessing, Op: op, Err: fmt.Errorf(format, args...)}
}

func Render(op string, format string, args ...any) error {
	return &Error{Kind: KindRender, Op: op, Err: fmt.Errorf(format, args...)}
}

func Assembly(op string, format string, args ...any) error {
	return &Error{Kind: KindAssembly, Op: op, Err: fmt.Errorf(format, args...)}
}

func Persistence(op string, format string, args ...any) error {
	return &Error{Kind: KindPersistence, Op: op, Err: fmt.Errorf(format, args...)}
}

func NotFound(op string, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether any error in err's chain carries kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// KindOf returns the outermost kind in err's chain, or 0 when unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
