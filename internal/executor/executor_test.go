package executor

import (
	"reflect"
	"testing"

	"go.uber.org/zap"
)

func TestRegistryLastRegistrationWins(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	first := &fakeExecutor{typeName: "dup", validateOK: true, result: Success("first", nil)}
	second := &fakeExecutor{typeName: "dup", validateOK: true, result: Success("second", nil)}

	reg.Register(first)
	reg.Register(second)

	got, ok := reg.Get("dup")
	if !ok {
		t.Fatal("expected executor registered")
	}
	if got != second {
		t.Fatal("expected the later registration to win")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	if _, ok := reg.Get("nope"); ok {
		t.Fatal("expected missing executor")
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&fakeExecutor{typeName: "zeta"})
	reg.Register(&fakeExecutor{typeName: "alpha"})
	reg.Register(&fakeExecutor{typeName: "mid"})

	want := []string{"alpha", "mid", "zeta"}
	if got := reg.Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Types()=%v, want %v", got, want)
	}
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"num":    float64(7),
		"str":    "hello",
		"flag":   true,
		"when":   "2026-01-02T15:04:05Z",
		"ids":    []any{float64(1), float64(2)},
		"topics": []any{"a", "b"},
		"bad":    []any{"a", float64(1)},
	}

	if n, ok := paramInt64(params, "num"); !ok || n != 7 {
		t.Fatalf("paramInt64: got %d ok=%v", n, ok)
	}
	if _, ok := paramInt64(params, "str"); ok {
		t.Fatal("paramInt64 accepted a string")
	}
	if s, ok := paramString(params, "str"); !ok || s != "hello" {
		t.Fatalf("paramString: got %q ok=%v", s, ok)
	}
	if !paramBool(params, "flag", false) {
		t.Fatal("paramBool: expected true")
	}
	if !paramBool(params, "absent", true) {
		t.Fatal("paramBool: expected default true")
	}
	if ts, ok := paramTime(params, "when"); !ok || ts == nil || ts.Year() != 2026 {
		t.Fatalf("paramTime: got %v ok=%v", ts, ok)
	}
	if ts, ok := paramTime(params, "absent"); !ok || ts != nil {
		t.Fatalf("paramTime absent: got %v ok=%v", ts, ok)
	}
	if _, ok := paramTime(map[string]any{"when": "not-a-time"}, "when"); ok {
		t.Fatal("paramTime accepted garbage")
	}
	if ids, ok := paramInt64Slice(params, "ids"); !ok || len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("paramInt64Slice: got %v ok=%v", ids, ok)
	}
	if topics, ok := paramStringSlice(params, "topics"); !ok || len(topics) != 2 {
		t.Fatalf("paramStringSlice: got %v ok=%v", topics, ok)
	}
	if _, ok := paramStringSlice(params, "bad"); ok {
		t.Fatal("paramStringSlice accepted mixed list")
	}
}
