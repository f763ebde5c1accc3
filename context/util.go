// Package context aliases the standard library context so call sites read
// context.T, context.Bg() and context.Cancel(...).
package context

import (
	"context"
)

type (
	// T is a context.Context.
	T = context.Context
	// F is a context.CancelFunc.
	F = context.CancelFunc
)

var (
	Bg      = context.Background
	Cancel  = context.WithCancel
	Timeout = context.WithTimeout
	Value   = context.WithValue

	// Canceled is the error of a context that was cancelled.
	Canceled = context.Canceled
)
