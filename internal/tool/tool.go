// Package tool defines the contract every callable operation implements and
// the in-memory registry that maps names to tool instances.
//
// A Tool bundles an immutable ToolDefinition (name, category, parameters,
// timeout, retry policy) with an Execute operation. Model inference,
// database queries, file I/O and sub-agent delegation all go through this
// one contract, which is what lets the executor apply retry, rate-limit
// and cost policy uniformly.
package tool

import (
	"context"
	"fmt"

	"github.com/forgeline/forgeline/pkg/models"
)

// Tool is the interface every callable operation implements.
type Tool interface {
	// Definition returns the immutable descriptor for this tool.
	Definition() models.ToolDefinition

	// Execute runs the tool with validated arguments. It should honor
	// ctx's deadline (the executor sets it from the definition's timeout)
	// and return an error only for unexpected failures; expected domain
	// outcomes belong in the ExecutionResult.
	Execute(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error)
}

// Func adapts a plain function into a Tool. Handy for tests and small
// inline tools.
type Func struct {
	Def models.ToolDefinition
	Fn  func(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error)
}

func (f *Func) Definition() models.ToolDefinition { return f.Def }

func (f *Func) Execute(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error) {
	return f.Fn(ctx, args, execCtx)
}

// ValidateArguments checks args against the definition's declared
// parameters and returns a merged copy with defaults applied for absent
// optional parameters. Missing required parameters are an error; unknown
// arguments pass through untouched (tools may accept open-ended input).
func ValidateArguments(def models.ToolDefinition, args map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(args)+len(def.Parameters))
	for k, v := range args {
		merged[k] = v
	}

	for _, p := range def.Parameters {
		v, present := merged[p.Name]
		if !present || v == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			if p.Default != nil {
				merged[p.Name] = p.Default
			}
			continue
		}
		if err := checkType(p, v); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

// checkType applies loose JSON-ish type checking. Numbers arriving from
// JSON decode as float64, so int and float are both accepted as "number".
func checkType(p models.ToolParameter, v any) error {
	ok := true
	switch p.Type {
	case "", "any":
		// untyped parameter
	case "string":
		_, ok = v.(string)
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
		default:
			ok = false
		}
	case "boolean":
		_, ok = v.(bool)
	case "object":
		_, ok = v.(map[string]any)
	case "array":
		_, ok = v.([]any)
	}
	if !ok {
		return fmt.Errorf("parameter %q: expected %s, got %T", p.Name, p.Type, v)
	}
	return nil
}
