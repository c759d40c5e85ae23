// Package ragerr defines the error taxonomy shared by every pipeline stage.
//
// All errors are *Error values carrying a Kind. Callers test the kind with
// errors.Is(err, ragerr.Retrieval) and test for "any pipeline error" with
// IsRAGError, which is the uniform catch-and-report hook at the boundary.
package ragerr

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure
type Kind string

const (
	DocumentLoad      Kind = "document_load"
	Cleaning          Kind = "cleaning"
	Chunking          Kind = "chunking"
	Indexing          Kind = "indexing"
	Retrieval         Kind = "retrieval"
	Reranking         Kind = "reranking"
	LLMInitialization Kind = "llm_initialization"
	LLMGeneration     Kind = "llm_generation"
	Pipeline          Kind = "pipeline"
	InvalidSchema     Kind = "invalid_schema"
	Timeout           Kind = "timeout"
)

// Error implements error so a bare Kind can be used as an errors.Is target
func (k Kind) Error() string {
	return string(k)
}

// Error is the single concrete error type of the pipeline
type Error struct {
	Kind  Kind
	Stage string
	Path  string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Stage != "" {
		b.WriteString(" [" + e.Stage + "]")
	}
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches a Kind target against this error's kind
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind and message
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithPath wraps err with a kind and the file path it concerns
func WithPath(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// Stage wraps a stage failure into a Pipeline error carrying the stage name.
// The inner kind stays reachable through errors.Is.
func Stage(stage string, err error) *Error {
	return &Error{Kind: Pipeline, Stage: stage, Err: err}
}

// FromContext wraps err with kind, or with Timeout when err came from an
// expired deadline.
func FromContext(kind Kind, err error, format string, args ...any) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = Timeout
	}
	return Wrap(kind, err, format, args...)
}

// IsRAGError reports whether err is any pipeline error
func IsRAGError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// KindOf returns the outermost kind in err's chain that is not Pipeline,
// falling back to Pipeline, or "" when err is not a pipeline error.
func KindOf(err error) Kind {
	var outer Kind
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		if e.Kind != Pipeline {
			return e.Kind
		}
		if outer == "" {
			outer = e.Kind
		}
		err = e.Err
	}
	return outer
}
