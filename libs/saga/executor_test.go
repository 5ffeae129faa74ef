package saga

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func step(name string, compensable bool, log *[]string, failExec, failComp bool) Step {
	return Step{
		Name:        name,
		Compensable: compensable,
		Execute: func(_ context.Context, _ *Context) error {
			if failExec {
				return Failf("BOOM", "step %s exploded", name)
			}
			*log = append(*log, "exec:"+name)
			return nil
		},
		Compensate: func(_ context.Context, _ *Context) error {
			if failComp {
				return errors.New("compensation broken")
			}
			*log = append(*log, "comp:"+name)
			return nil
		},
	}
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	var log []string
	ex := NewExecutor(testLogger())
	sc := NewContext("test.saga")

	err := ex.Execute(context.Background(), sc, []Step{
		step("a", true, &log, false, false),
		step("b", true, &log, false, false),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"exec:a", "exec:b"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
}

func TestExecute_CompensatesInReverseOrder(t *testing.T) {
	var log []string
	ex := NewExecutor(testLogger())
	sc := NewContext("test.saga")

	err := ex.Execute(context.Background(), sc, []Step{
		step("a", true, &log, false, false),
		step("b", true, &log, false, false),
		step("c", true, &log, true, false),
		step("d", true, &log, false, false),
	})
	if err == nil {
		t.Fatal("expected failure")
	}

	want := []string{"exec:a", "exec:b", "comp:b", "comp:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}

	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %T", err)
	}
	if ee.FailedStep != "c" {
		t.Fatalf("expected failed step c, got %s", ee.FailedStep)
	}
	if ee.Code != "BOOM" {
		t.Fatalf("expected code BOOM, got %s", ee.Code)
	}
	if ee.SagaID != sc.SagaID() || ee.SagaType != "test.saga" {
		t.Fatalf("saga identity not carried: %+v", ee)
	}
}

func TestExecute_NonCompensableStepIsSkippedOnRollback(t *testing.T) {
	var log []string
	ex := NewExecutor(testLogger())

	err := ex.Execute(context.Background(), NewContext("test.saga"), []Step{
		step("validate", false, &log, false, false),
		step("reserve", true, &log, false, false),
		step("create", true, &log, true, false),
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	for _, entry := range log {
		if entry == "comp:validate" {
			t.Fatal("non-compensable step was compensated")
		}
	}
	if log[len(log)-1] != "comp:reserve" {
		t.Fatalf("expected reserve to be compensated last, got %v", log)
	}
}

func TestExecute_FailedStepItselfIsNotCompensated(t *testing.T) {
	var log []string
	ex := NewExecutor(testLogger())

	_ = ex.Execute(context.Background(), NewContext("test.saga"), []Step{
		step("a", true, &log, false, false),
		step("b", true, &log, true, false),
	})
	for _, entry := range log {
		if entry == "comp:b" {
			t.Fatal("failing step was compensated")
		}
	}
}

func TestExecute_CompensationFailureDoesNotMaskOriginalError(t *testing.T) {
	var log []string
	ex := NewExecutor(testLogger())

	err := ex.Execute(context.Background(), NewContext("test.saga"), []Step{
		step("a", true, &log, false, false),
		step("b", true, &log, false, true), // compensation will fail
		step("c", true, &log, true, false),
	})

	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if ee.FailedStep != "c" || ee.Code != "BOOM" {
		t.Fatalf("original failure was replaced: %+v", ee)
	}
	// a is still compensated after b's compensation failed.
	found := false
	for _, entry := range log {
		if entry == "comp:a" {
			found = true
		}
	}
	if !found {
		t.Fatalf("compensation did not continue past a failed compensation: %v", log)
	}
}

func TestExecute_StepWithoutBusinessCodeReportsInternal(t *testing.T) {
	ex := NewExecutor(testLogger())
	err := ex.Execute(context.Background(), NewContext("test.saga"), []Step{
		{
			Name:    "broken",
			Execute: func(context.Context, *Context) error { return errors.New("db gone") },
		},
	})
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if ee.Code != CodeInternal {
		t.Fatalf("expected %s, got %s", CodeInternal, ee.Code)
	}
}

func TestContext_TypedValues(t *testing.T) {
	sc := NewContext("test.saga")
	sc.Set("handle", "newchan")
	sc.Set("version", int64(3))

	if sc.String("handle") != "newchan" {
		t.Fatalf("unexpected handle: %q", sc.String("handle"))
	}
	v, ok := Value[int64](sc, "version")
	if !ok || v != 3 {
		t.Fatalf("expected version 3, got %v ok=%v", v, ok)
	}
	if _, ok := Value[string](sc, "version"); ok {
		t.Fatal("type mismatch should not be ok")
	}
	if _, ok := sc.Get("missing"); ok {
		t.Fatal("missing key should not be ok")
	}
	if sc.SagaID() == "" {
		t.Fatal("saga id must be assigned")
	}
}

func TestChain_MiddlewareOrderAndPropagation(t *testing.T) {
	ex := NewExecutor(testLogger())
	var order []string
	mw := func(tag string) Middleware {
		return func(next ExecFunc) ExecFunc {
			return func(ctx context.Context, sc *Context, steps []Step) error {
				order = append(order, tag)
				return next(ctx, sc, steps)
			}
		}
	}

	run := Chain(ex.Execute, mw("outer"), mw("inner"))
	err := run(context.Background(), NewContext("test.saga"), []Step{
		{Name: "noop", Execute: func(context.Context, *Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Fatalf("unexpected middleware order: %v", order)
	}
}
