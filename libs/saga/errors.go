package saga

import "fmt"

// CodeInternal is the error code reported when a step fails with an error that
// carries no business code of its own.
const CodeInternal = "INTERNAL"

// StepError is an expected business-rule failure raised by a step. Code is a
// stable domain error code (HANDLE_TAKEN, QUOTA_EXCEEDED, ...) that callers can
// use to decide whether a retry makes sense.
type StepError struct {
	Step string
	Code string
	Err  error
}

func (e *StepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Code)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fail builds a StepError. The step name is filled in by the executor, so
// steps only supply the code and cause.
func Fail(code string, err error) *StepError {
	return &StepError{Code: code, Err: err}
}

func Failf(code, format string, args ...any) *StepError {
	return &StepError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ExecutionError is the terminal result of a failed saga. Compensation has
// already run (best effort) by the time the caller sees it.
type ExecutionError struct {
	SagaID     string
	SagaType   string
	FailedStep string
	Code       string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("saga %s (%s) failed at step %s: %s: %v",
		e.SagaType, e.SagaID, e.FailedStep, e.Code, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
