package plugins

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestFoldOrderAndMutation(t *testing.T) {
	r := NewRegistry()
	r.Register(Plugin{Name: "first", Hooks: Hooks{
		SystemTransform: func(ctx context.Context, out *SystemTransformOutput) error {
			out.Parts = append(out.Parts, "from-first")
			return nil
		},
	}})
	r.Register(Plugin{Name: "second", Hooks: Hooks{
		SystemTransform: func(ctx context.Context, out *SystemTransformOutput) error {
			out.Parts = append(out.Parts, "from-second")
			return nil
		},
	}})

	out := &SystemTransformOutput{Parts: []string{"base"}}
	if err := r.RunSystemTransform(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	want := []string{"base", "from-first", "from-second"}
	if len(out.Parts) != 3 || out.Parts[1] != want[1] || out.Parts[2] != want[2] {
		t.Errorf("parts = %v, want %v", out.Parts, want)
	}
}

func TestFoldAbortsOnError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	ran := false
	r.Register(Plugin{Name: "failing", Hooks: Hooks{
		TextComplete: func(ctx context.Context, id string, out *TextCompleteOutput) error {
			return boom
		},
	}})
	r.Register(Plugin{Name: "after", Hooks: Hooks{
		TextComplete: func(ctx context.Context, id string, out *TextCompleteOutput) error {
			ran = true
			return nil
		},
	}})

	err := r.RunTextComplete(context.Background(), "s1", &TextCompleteOutput{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if ran {
		t.Error("later hooks must not run after a failure")
	}
	if !strings.Contains(err.Error(), "failing") {
		t.Errorf("error should name the plugin: %v", err)
	}
}

func TestDuplicatePluginName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Plugin{Name: "dup"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Plugin{Name: "dup"}); err == nil {
		t.Error("expected duplicate name rejection")
	}
}

func TestCollectToolsCollisions(t *testing.T) {
	r := NewRegistry()
	r.Register(Plugin{Name: "a", Tools: []ToolContribution{{ID: "weather"}}})
	r.Register(Plugin{Name: "b", Tools: []ToolContribution{{ID: "weather"}}})

	if _, err := r.CollectTools(nil); err == nil {
		t.Error("expected cross-plugin collision")
	}

	r2 := NewRegistry()
	r2.Register(Plugin{Name: "a", Tools: []ToolContribution{{ID: "read"}}})
	if _, err := r2.CollectTools(map[string]bool{"read": true}); err == nil {
		t.Error("expected builtin collision")
	}

	r3 := NewRegistry()
	r3.Register(Plugin{Name: "a", Tools: []ToolContribution{{ID: "weather"}}})
	tools, err := r3.CollectTools(map[string]bool{"read": true})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 || tools[0].ID != "weather" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestPermissionAskOverride(t *testing.T) {
	r := NewRegistry()
	r.Register(Plugin{Name: "auto-allow", Hooks: Hooks{
		PermissionAsk: func(ctx context.Context, in PermissionAskInput, out *PermissionAskOutput) error {
			if in.Permission == "read" {
				out.Status = "allow"
			}
			return nil
		},
	}})

	out := &PermissionAskOutput{}
	r.RunPermissionAsk(context.Background(), PermissionAskInput{Permission: "read"}, out)
	if out.Status != "allow" {
		t.Errorf("status = %q, want allow", out.Status)
	}

	out = &PermissionAskOutput{}
	r.RunPermissionAsk(context.Background(), PermissionAskInput{Permission: "edit"}, out)
	if out.Status != "" {
		t.Errorf("status = %q, want untouched", out.Status)
	}
}
