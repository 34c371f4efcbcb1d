package executor

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// fakeExecutor records calls and returns a canned result.
type fakeExecutor struct {
	typeName   string
	validateOK bool
	result     Result
	calls      int
	lastParams map[string]any
}

func (f *fakeExecutor) Type() string { return f.typeName }

func (f *fakeExecutor) ValidateParams(params map[string]any) bool { return f.validateOK }

func (f *fakeExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) Result {
	f.calls++
	f.lastParams = params
	return f.result
}

func newWorkflowHarness(t *testing.T, execs ...*fakeExecutor) (*WorkflowExecutor, *Registry) {
	t.Helper()
	reg := NewRegistry(zap.NewNop())
	for _, e := range execs {
		reg.Register(e)
	}
	wf := NewWorkflowExecutor(reg, zap.NewNop())
	reg.Register(wf)
	return wf, reg
}

func TestWorkflowVariableSubstitutionPreservesType(t *testing.T) {
	producer := &fakeExecutor{
		typeName:   "produce",
		validateOK: true,
		result:     Success("ok", map[string]any{"content_id": float64(5)}),
	}
	consumer := &fakeExecutor{typeName: "consume", validateOK: true, result: Success("ok", nil)}
	wf, _ := newWorkflowHarness(t, producer, consumer)

	res := wf.Execute(context.Background(), 1, map[string]any{
		"steps": []any{
			map[string]any{"type": "produce"},
			map[string]any{"type": "consume", "params": map[string]any{
				"content_id": "${content_id}",
				"label":      "content-${content_id}",
			}},
		},
	})
	if !res.Success {
		t.Fatalf("workflow failed: %s", res.Message)
	}

	got, ok := consumer.lastParams["content_id"].(float64)
	if !ok {
		t.Fatalf("expected float64 content_id, got %T", consumer.lastParams["content_id"])
	}
	if got != 5 {
		t.Fatalf("expected content_id 5, got %v", got)
	}
	if label := consumer.lastParams["label"]; label != "content-5" {
		t.Fatalf("expected interpolated label content-5, got %v", label)
	}
}

func TestWorkflowUndefinedVariableFailsStep(t *testing.T) {
	consumer := &fakeExecutor{typeName: "consume", validateOK: true, result: Success("ok", nil)}
	wf, _ := newWorkflowHarness(t, consumer)

	res := wf.Execute(context.Background(), 1, map[string]any{
		"steps": []any{
			map[string]any{"type": "consume", "params": map[string]any{"x": "${missing}"}},
		},
	})
	if res.Success {
		t.Fatal("expected failure for undefined variable")
	}
	if consumer.calls != 0 {
		t.Fatalf("step executed despite unresolved variable, calls=%d", consumer.calls)
	}
	if !strings.Contains(res.Message, "missing") {
		t.Fatalf("expected message to name the variable, got %q", res.Message)
	}
}

func TestWorkflowFailFast(t *testing.T) {
	step1 := &fakeExecutor{typeName: "one", validateOK: true, result: Success("ok", nil)}
	step2 := &fakeExecutor{typeName: "two", validateOK: true, result: Failure("boom", nil)}
	step3 := &fakeExecutor{typeName: "three", validateOK: true, result: Success("ok", nil)}
	wf, _ := newWorkflowHarness(t, step1, step2, step3)

	res := wf.Execute(context.Background(), 1, map[string]any{
		"steps": []any{
			map[string]any{"type": "one"},
			map[string]any{"type": "two"},
			map[string]any{"type": "three"},
		},
	})
	if res.Success {
		t.Fatal("expected workflow failure")
	}
	if step3.calls != 0 {
		t.Fatalf("step after failure executed, calls=%d", step3.calls)
	}
	if idx, ok := res.Metadata["failed_step"].(int); !ok || idx != 1 {
		t.Fatalf("expected failed_step=1, got %v", res.Metadata["failed_step"])
	}
	if res.Metadata["step_type"] != "two" {
		t.Fatalf("expected step_type=two, got %v", res.Metadata["step_type"])
	}
}

func TestWorkflowUnknownStepTypeRejectedBeforeExecution(t *testing.T) {
	step1 := &fakeExecutor{typeName: "one", validateOK: true, result: Success("ok", nil)}
	wf, _ := newWorkflowHarness(t, step1)

	res := wf.Execute(context.Background(), 1, map[string]any{
		"steps": []any{
			map[string]any{"type": "one"},
			map[string]any{"type": "nope"},
		},
	})
	if res.Success {
		t.Fatal("expected failure for unknown step type")
	}
	if step1.calls != 0 {
		t.Fatalf("step executed despite invalid step list, calls=%d", step1.calls)
	}
}

func TestWorkflowValidateParams(t *testing.T) {
	step1 := &fakeExecutor{typeName: "one", validateOK: true, result: Success("ok", nil)}
	wf, _ := newWorkflowHarness(t, step1)

	cases := []struct {
		name   string
		params map[string]any
		want   bool
	}{
		{"valid", map[string]any{"steps": []any{map[string]any{"type": "one"}}}, true},
		{"missing steps", map[string]any{}, false},
		{"empty steps", map[string]any{"steps": []any{}}, false},
		{"unknown type", map[string]any{"steps": []any{map[string]any{"type": "nope"}}}, false},
		{"nested workflow", map[string]any{"steps": []any{map[string]any{"type": "workflow"}}}, false},
		{"step without type", map[string]any{"steps": []any{map[string]any{"params": map[string]any{}}}}, false},
	}
	for _, tc := range cases {
		if got := wf.ValidateParams(tc.params); got != tc.want {
			t.Fatalf("%s: ValidateParams=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWorkflowThreadsDataAcrossSteps(t *testing.T) {
	step1 := &fakeExecutor{
		typeName:   "one",
		validateOK: true,
		result:     Success("ok", map[string]any{"a": "first"}),
	}
	step2 := &fakeExecutor{
		typeName:   "two",
		validateOK: true,
		result:     Success("ok", map[string]any{"b": float64(2)}),
	}
	step3 := &fakeExecutor{typeName: "three", validateOK: true, result: Success("ok", nil)}
	wf, _ := newWorkflowHarness(t, step1, step2, step3)

	res := wf.Execute(context.Background(), 1, map[string]any{
		"steps": []any{
			map[string]any{"type": "one"},
			map[string]any{"type": "two"},
			map[string]any{"type": "three", "params": map[string]any{
				"x": "${a}",
				"y": "${b}",
			}},
		},
	})
	if !res.Success {
		t.Fatalf("workflow failed: %s", res.Message)
	}
	if step3.lastParams["x"] != "first" {
		t.Fatalf("expected x=first, got %v", step3.lastParams["x"])
	}
	if step3.lastParams["y"] != float64(2) {
		t.Fatalf("expected y=2, got %v", step3.lastParams["y"])
	}
	// accumulated context is surfaced as the workflow's own data
	if res.Data["a"] != "first" || res.Data["b"] != float64(2) {
		t.Fatalf("expected accumulated context in result data, got %v", res.Data)
	}
}
