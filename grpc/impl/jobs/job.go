// Package jobs keeps the durable registry of translation jobs and runs them
// one at a time, in submission order.
package jobs

import (
	"fmt"
	"strings"
	"time"
)

// Status values are persisted as integers; do not reorder.
type Status int

const (
	StatusNotTranslated Status = iota
	StatusTranslating
	StatusTranslated
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusNotTranslated:
		return "not_translated"
	case StatusTranslating:
		return "translating"
	case StatusTranslated:
		return "translated"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus accepts the String form, case-insensitively.
func ParseStatus(value string) (Status, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, status := range []Status{StatusNotTranslated, StatusTranslating, StatusTranslated, StatusFailed, StatusCancelled} {
		if status.String() == normalized {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", value)
}

// isTerminal reports whether a job with this status may be submitted again.
func isTerminal(status Status) bool {
	switch status {
	case StatusTranslated, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusNotTranslated:
		return to == StatusTranslating || to == StatusCancelled
	case StatusTranslating:
		return to == StatusTranslated || to == StatusFailed || to == StatusCancelled || to == StatusNotTranslated
	case StatusTranslated, StatusFailed, StatusCancelled:
		return to == StatusNotTranslated
	default:
		return false
	}
}

// sourcesOf returns every status from which to can be reached.
func sourcesOf(to Status) []Status {
	var from []Status
	for _, status := range []Status{StatusNotTranslated, StatusTranslating, StatusTranslated, StatusFailed, StatusCancelled} {
		if isValidTransition(status, to) {
			from = append(from, status)
		}
	}
	return from
}

type Params struct {
	FromLang     string
	ToLang       string
	TranslateAll bool
	// Half-open page range [PageFrom, PageTo), 0-based. Ignored when TranslateAll is set.
	PageFrom         int
	PageTo           int
	RenderMode       string
	AddBoundaryPages bool
}

type Job struct {
	// Identity: base name of the source file. E.g., "paper.pdf"
	Name       string
	SourcePath string
	OutputPath string
	Status     Status
	// Submission order. Larger is later.
	Seq       int64
	Params    Params
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BackingFile returns the file whose disappearance makes the job row stale, or "" when
// the row must never be pruned.
func (j Job) BackingFile() string {
	switch j.Status {
	case StatusTranslated:
		return j.OutputPath
	case StatusTranslating:
		return ""
	default:
		return j.SourcePath
	}
}
