package heldtx

import (
	"context"

	"github.com/heldtx/heldtx/internal/dbtx"
)

// Action is a caller-supplied database action: it receives the Exec bound to
// the held transaction's pinned connection and returns whatever value the
// caller wants back.
type Action func(ctx context.Context, exec dbtx.Exec) (any, error)

type opKind int

const (
	opReadyProbe opKind = iota
	opExecute
	opTerminate
)

// opResult is what the worker hands back on an operation's response
// channel.
type opResult struct {
	value any
	err   error
}

// operation is the value carried on the in-memory queue spec.md §3
// describes: a tag, a response channel, and a payload.
type operation struct {
	kind     opKind
	action   Action
	terminal State
	resp     chan opResult
}
