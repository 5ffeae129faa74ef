package saga

import (
	"context"
	"errors"
	"log/slog"
)

// Executor runs saga steps strictly in list order on the calling goroutine.
// On a step failure it compensates every compensable step that completed, in
// reverse order, then reports an ExecutionError. It never retries: a retry is
// a new saga instance with a fresh id, decided by the caller.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{logger: logger}
}

// ExecFunc is the executable shape of a saga run. Executor.Execute is the base
// ExecFunc; cross-cutting concerns wrap it via Middleware.
type ExecFunc func(ctx context.Context, sc *Context, steps []Step) error

type Middleware func(ExecFunc) ExecFunc

// Chain composes middleware around fn so Chain(fn, a, b) runs a(b(fn)).
func Chain(fn ExecFunc, mw ...Middleware) ExecFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		fn = mw[i](fn)
	}
	return fn
}

func (e *Executor) Execute(ctx context.Context, sc *Context, steps []Step) error {
	for i, step := range steps {
		err := step.Execute(ctx, sc)
		if err == nil {
			continue
		}

		code := CodeInternal
		var se *StepError
		if errors.As(err, &se) {
			code = se.Code
			if se.Step == "" {
				se.Step = step.Name
			}
		}
		e.logger.Error("saga step failed",
			"saga_id", sc.SagaID(),
			"saga_type", sc.SagaType(),
			"step", step.Name,
			"code", code,
			"err", err,
		)

		e.compensate(ctx, sc, steps[:i])

		return &ExecutionError{
			SagaID:     sc.SagaID(),
			SagaType:   sc.SagaType(),
			FailedStep: step.Name,
			Code:       code,
			Err:        err,
		}
	}
	return nil
}

// compensate rolls back completed steps in reverse order. The step that raised
// the failure is not in the slice: it never completed, so it has nothing to
// undo. Compensation failures are logged and swallowed; they must never mask
// the original step failure.
func (e *Executor) compensate(ctx context.Context, sc *Context, completed []Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		if !step.Compensable || step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx, sc); err != nil {
			e.logger.Error("saga compensation failed",
				"saga_id", sc.SagaID(),
				"saga_type", sc.SagaType(),
				"step", step.Name,
				"err", err,
			)
			continue
		}
		e.logger.Info("saga step compensated",
			"saga_id", sc.SagaID(),
			"saga_type", sc.SagaType(),
			"step", step.Name,
		)
	}
}
