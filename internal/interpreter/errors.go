// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.

package interpreter

import "fmt"

// Kind classifies a runtime error per spec.md §7.
type Kind string

const (
	KindType        Kind = "type error"
	KindArithmetic  Kind = "arithmetic error"
	KindName        Kind = "name error"
	KindArity       Kind = "arity error"
	KindIndex       Kind = "index error"
	KindResource    Kind = "resource exhaustion"
	KindInternal    Kind = "internal"
)

// Error is the interpreter's single runtime-error type. Its user-visible
// form is one line: the kind, the offending source line, and a short
// message (spec.md §7 "User-visible form").
type Error struct {
	Kind    Kind
	Line    int32
	Message string
	Frames  []string // most-recent-first, optional
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: line %d: %s", e.Kind, e.Line, e.Message)
}

func newErr(kind Kind, line int32, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Line: line, Message: fmt.Sprintf(format, args...)}
}
