package stencil

import "context"

type interpreterKey struct{}

// WithInterpreter returns a context carrying i as the current interpreter.
// Nested renders derive their context from the outer one, so the chain of
// contexts behaves as a stack that unwinds with the call stack.
func WithInterpreter(ctx context.Context, i *Interpreter) context.Context {
	return context.WithValue(ctx, interpreterKey{}, i)
}

// InterpreterFrom returns the innermost interpreter attached to ctx.
func InterpreterFrom(ctx context.Context) (*Interpreter, bool) {
	if ctx == nil {
		return nil, false
	}
	i, ok := ctx.Value(interpreterKey{}).(*Interpreter)
	return i, ok && i != nil
}
