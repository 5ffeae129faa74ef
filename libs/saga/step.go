package saga

import "context"

// Step is one unit of work in a saga. Steps are plain descriptors: a saga type
// builds its step list once and the executor iterates it generically.
//
// Execute runs the step's forward action, reading inputs from and writing
// results into the saga Context. Compensate semantically undoes a completed
// Execute; it is only ever invoked for steps that finished successfully before
// a later step failed. Steps with Compensable=false are skipped during
// rollback; validation steps and event-recording steps are the usual cases
// (an emitted event is irrevocable, consumers must tolerate duplicates).
type Step struct {
	Name        string
	Compensable bool
	Execute     func(ctx context.Context, sc *Context) error
	Compensate  func(ctx context.Context, sc *Context) error
}
