package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
)

func stubTool(name string, category models.ToolCategory) tool.Tool {
	return &tool.Func{
		Def: models.ToolDefinition{Name: name, Category: category},
		Fn: func(ctx context.Context, args map[string]any, execCtx *models.ExecutionContext) (*models.ExecutionResult, error) {
			return &models.ExecutionResult{Success: true}, nil
		},
	}
}

// ─── Register / Unregister / Get ─────────────────────────────

func TestRegisterAndGet(t *testing.T) {
	r := tool.NewRegistry()

	if err := r.Register(stubTool("echo", models.CategoryInternalSkill), false); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Definition().Name != "echo" {
		t.Errorf("Get().Definition().Name = %q, want %q", got.Definition().Name, "echo")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := tool.NewRegistry()
	r.Register(stubTool("dup", models.CategoryCustom), false)

	err := r.Register(stubTool("dup", models.CategoryCustom), false)
	if !errors.Is(err, tool.ErrAlreadyRegistered) {
		t.Errorf("Register() duplicate error = %v, want ErrAlreadyRegistered", err)
	}
}

func TestRegister_Replace(t *testing.T) {
	r := tool.NewRegistry()
	r.Register(stubTool("swap", models.CategoryCustom), false)

	replacement := stubTool("swap", models.CategoryExternalAPI)
	if err := r.Register(replacement, true); err != nil {
		t.Fatalf("Register(allowReplace) error = %v", err)
	}

	got, _ := r.Get("swap")
	if got.Definition().Category != models.CategoryExternalAPI {
		t.Errorf("after replace, Category = %q, want %q", got.Definition().Category, models.CategoryExternalAPI)
	}
}

func TestUnregister(t *testing.T) {
	r := tool.NewRegistry()
	r.Register(stubTool("gone", models.CategoryCustom), false)

	if err := r.Unregister("gone"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, err := r.Get("gone"); !errors.Is(err, tool.ErrToolNotFound) {
		t.Errorf("Get() after Unregister error = %v, want ErrToolNotFound", err)
	}
}

func TestUnregister_NotFound(t *testing.T) {
	r := tool.NewRegistry()
	if err := r.Unregister("missing"); !errors.Is(err, tool.ErrToolNotFound) {
		t.Errorf("Unregister() error = %v, want ErrToolNotFound", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	r := tool.NewRegistry()
	if _, err := r.Get("missing"); !errors.Is(err, tool.ErrToolNotFound) {
		t.Errorf("Get() error = %v, want ErrToolNotFound", err)
	}
}

// ─── List ────────────────────────────────────────────────────

func TestList_SortedDefinitionsOnly(t *testing.T) {
	r := tool.NewRegistry()
	r.Register(stubTool("zeta", models.CategoryCustom), false)
	r.Register(stubTool("alpha", models.CategoryExternalAPI), false)

	defs := r.List()
	if len(defs) != 2 {
		t.Fatalf("List() returned %d defs, want 2", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "zeta" {
		t.Errorf("List() order = [%s %s], want [alpha zeta]", defs[0].Name, defs[1].Name)
	}
}

func TestList_FilterByCategory(t *testing.T) {
	r := tool.NewRegistry()
	r.Register(stubTool("llm", models.CategoryModelInference), false)
	r.Register(stubTool("fetch", models.CategoryExternalAPI), false)
	r.Register(stubTool("read", models.CategoryFilesystem), false)

	defs := r.List(models.CategoryModelInference, models.CategoryFilesystem)
	if len(defs) != 2 {
		t.Fatalf("List(filtered) returned %d defs, want 2", len(defs))
	}
	for _, d := range defs {
		if d.Category == models.CategoryExternalAPI {
			t.Errorf("List(filtered) included category %q", d.Category)
		}
	}
}

// ─── Argument validation ─────────────────────────────────────

func TestValidateArguments_RequiredMissing(t *testing.T) {
	def := models.ToolDefinition{
		Name: "fetch",
		Parameters: []models.ToolParameter{
			{Name: "url", Type: "string", Required: true},
		},
	}
	_, err := tool.ValidateArguments(def, map[string]any{})
	if err == nil {
		t.Error("ValidateArguments() = nil error, want missing-parameter error")
	}
}

func TestValidateArguments_DefaultsApplied(t *testing.T) {
	def := models.ToolDefinition{
		Name: "fetch",
		Parameters: []models.ToolParameter{
			{Name: "url", Type: "string", Required: true},
			{Name: "method", Type: "string", Default: "GET"},
		},
	}
	merged, err := tool.ValidateArguments(def, map[string]any{"url": "https://example.com"})
	if err != nil {
		t.Fatalf("ValidateArguments() error = %v", err)
	}
	if merged["method"] != "GET" {
		t.Errorf("merged[method] = %v, want GET", merged["method"])
	}
	if merged["url"] != "https://example.com" {
		t.Errorf("merged[url] = %v", merged["url"])
	}
}

func TestValidateArguments_TypeMismatch(t *testing.T) {
	def := models.ToolDefinition{
		Name: "calc",
		Parameters: []models.ToolParameter{
			{Name: "count", Type: "number", Required: true},
		},
	}
	if _, err := tool.ValidateArguments(def, map[string]any{"count": "three"}); err == nil {
		t.Error("ValidateArguments() accepted a string for a number parameter")
	}
	// JSON numbers decode as float64; plain ints must also pass.
	if _, err := tool.ValidateArguments(def, map[string]any{"count": float64(3)}); err != nil {
		t.Errorf("ValidateArguments(float64) error = %v", err)
	}
	if _, err := tool.ValidateArguments(def, map[string]any{"count": 3}); err != nil {
		t.Errorf("ValidateArguments(int) error = %v", err)
	}
}

func TestValidateArguments_DoesNotMutateInput(t *testing.T) {
	def := models.ToolDefinition{
		Name: "fetch",
		Parameters: []models.ToolParameter{
			{Name: "method", Type: "string", Default: "GET"},
		},
	}
	in := map[string]any{}
	if _, err := tool.ValidateArguments(def, in); err != nil {
		t.Fatalf("ValidateArguments() error = %v", err)
	}
	if len(in) != 0 {
		t.Errorf("input map was mutated: %v", in)
	}
}

// ─── Default registry ────────────────────────────────────────

func TestDefault_IsSingleton(t *testing.T) {
	if tool.Default() != tool.Default() {
		t.Error("Default() returned different instances")
	}
}
