// Package lifecycle ties the process run context to termination signals.
package lifecycle

import (
	"context"
	"os/signal"
	"time"
)

// ShutdownGrace bounds how long active casts get to stop after the run
// context ends.
const ShutdownGrace = 5 * time.Second

// RunContext is cancelled on the first termination signal.
func RunContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, TerminationSignals()...)
}

// ShutdownContext does not inherit from the run context.
func ShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ShutdownGrace)
}
