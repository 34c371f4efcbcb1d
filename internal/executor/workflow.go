package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type workflowStep struct {
	Type   string
	Params map[string]any
}

// WorkflowExecutor runs an ordered list of steps, each delegating to
// another registered executor. Step result data accumulates in a variable
// context that later steps reference with ${name} markers. The first
// failing step stops the workflow; earlier side effects stay in place.
type WorkflowExecutor struct {
	registry *Registry
	log      *zap.Logger
}

func NewWorkflowExecutor(registry *Registry, log *zap.Logger) *WorkflowExecutor {
	return &WorkflowExecutor{registry: registry, log: log}
}

func (e *WorkflowExecutor) Type() string { return "workflow" }

func (e *WorkflowExecutor) ValidateParams(params map[string]any) bool {
	steps, err := parseSteps(params)
	if err != nil {
		return false
	}
	for _, s := range steps {
		if s.Type == e.Type() {
			return false // no nested workflows
		}
		if _, ok := e.registry.Get(s.Type); !ok {
			return false
		}
	}
	return true
}

func (e *WorkflowExecutor) Execute(ctx context.Context, taskID int64, params map[string]any) Result {
	steps, err := parseSteps(params)
	if err != nil {
		return Failure("invalid workflow definition", err)
	}
	for i, s := range steps {
		if _, ok := e.registry.Get(s.Type); !ok {
			return Failure(fmt.Sprintf("step %d references unknown type %q", i, s.Type), nil)
		}
	}

	vars := map[string]any{}
	for i, s := range steps {
		stepExec, _ := e.registry.Get(s.Type)

		resolved, err := resolveParams(s.Params, vars)
		if err != nil {
			return e.stepFailure(i, s.Type, fmt.Sprintf("variable resolution: %v", err), nil)
		}
		if !stepExec.ValidateParams(resolved) {
			return e.stepFailure(i, s.Type, "step params failed validation", nil)
		}

		res := stepExec.Execute(ctx, taskID, resolved)
		if !res.Success {
			e.log.Warn("workflow step failed",
				zap.Int64("task_id", taskID),
				zap.Int("step", i),
				zap.String("step_type", s.Type),
				zap.String("message", res.Message),
			)
			return e.stepFailure(i, s.Type, res.Message, res.Metadata)
		}
		for k, v := range res.Data {
			vars[k] = v
		}
	}

	return Result{
		Success:  true,
		Message:  fmt.Sprintf("workflow completed, %d steps", len(steps)),
		Data:     vars,
		Metadata: map[string]any{"steps_completed": len(steps)},
	}
}

func (e *WorkflowExecutor) stepFailure(index int, stepType, message string, extra map[string]any) Result {
	meta := map[string]any{
		"failed_step": index,
		"step_type":   stepType,
	}
	for k, v := range extra {
		meta[k] = v
	}
	return Result{
		Success:  false,
		Message:  fmt.Sprintf("step %d (%s) failed: %s", index, stepType, message),
		Metadata: meta,
	}
}

func parseSteps(params map[string]any) ([]workflowStep, error) {
	raw, ok := params["steps"]
	if !ok {
		return nil, fmt.Errorf("missing steps")
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("steps must be a list")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("steps is empty")
	}

	out := make([]workflowStep, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("step %d is not an object", i)
		}
		stepType, ok := m["type"].(string)
		if !ok || stepType == "" {
			return nil, fmt.Errorf("step %d has no type", i)
		}
		stepParams := map[string]any{}
		if p, present := m["params"]; present {
			stepParams, ok = p.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("step %d params is not an object", i)
			}
		}
		out = append(out, workflowStep{Type: stepType, Params: stepParams})
	}
	return out, nil
}

// resolveParams substitutes ${name} markers against the variable context.
// A string that is exactly one marker is replaced by the variable's value
// with its type intact; markers embedded in a longer string interpolate
// textually. Referencing an absent variable is an error.
func resolveParams(params map[string]any, vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := resolveValue(v, vars)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v any, vars map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, vars)
	case map[string]any:
		return resolveParams(val, vars)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, vars map[string]any) (any, error) {
	matches := varPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// exact single-marker string keeps the variable's type
	if len(matches) == 1 && matches[0][0] == s {
		name := matches[0][1]
		val, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("undefined variable %q", name)
		}
		return val, nil
	}

	var sb strings.Builder
	rest := s
	for len(rest) > 0 {
		loc := varPattern.FindStringSubmatchIndex(rest)
		if loc == nil {
			sb.WriteString(rest)
			break
		}
		sb.WriteString(rest[:loc[0]])
		name := rest[loc[2]:loc[3]]
		val, ok := vars[name]
		if !ok {
			return nil, fmt.Errorf("undefined variable %q", name)
		}
		sb.WriteString(fmt.Sprint(val))
		rest = rest[loc[1]:]
	}
	return sb.String(), nil
}
