package creation

import (
	"context"
	"sync"
)

// Token is the cancellation handle for one creation run.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewToken creates a token derived from parent.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel cancels the run. It is safe to call more than once.
func (t *Token) Cancel() {
	t.once.Do(t.cancel)
}

// IsCancelled reports whether the run was cancelled.
func (t *Token) IsCancelled() bool {
	return t.ctx.Err() != nil
}

// Context returns the context passed to generator calls.
func (t *Token) Context() context.Context {
	return t.ctx
}
