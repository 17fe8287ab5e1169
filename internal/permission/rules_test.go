package permission

import "testing"

func TestEvaluate_LastMatchWins(t *testing.T) {
	rs := Ruleset{
		{Permission: "*", Pattern: "*", Action: Allow},
		{Permission: "edit", Pattern: "*", Action: Deny},
		{Permission: "edit", Pattern: "docs/*", Action: Allow},
	}

	tests := []struct {
		permission, pattern string
		want                Action
	}{
		{"read", "src/a.go", Allow},
		{"edit", "src/a.go", Deny},
		{"edit", "docs/readme.md", Allow},
	}

	for _, tt := range tests {
		if got := rs.Evaluate(tt.permission, tt.pattern); got != tt.want {
			t.Errorf("Evaluate(%s, %s) = %s, want %s", tt.permission, tt.pattern, got, tt.want)
		}
	}
}

func TestEvaluate_DefaultAsk(t *testing.T) {
	var rs Ruleset
	if got := rs.Evaluate("read", "anything"); got != Ask {
		t.Errorf("empty ruleset = %s, want ask", got)
	}

	rs = Ruleset{{Permission: "bash", Pattern: "git *", Action: Allow}}
	if got := rs.Evaluate("read", "x"); got != Ask {
		t.Errorf("non-matching = %s, want ask", got)
	}
}

func TestEvaluateAll_Combine(t *testing.T) {
	rs := Ruleset{
		{Permission: "*", Pattern: "*", Action: Allow},
		{Permission: "read", Pattern: "/etc/*", Action: Deny},
	}

	if got := rs.EvaluateAll("read", []string{"src/a.go", "/etc/passwd"}); got != Deny {
		t.Errorf("combined = %s, want deny", got)
	}
	if got := rs.EvaluateAll("read", []string{"src/a.go"}); got != Allow {
		t.Errorf("combined = %s, want allow", got)
	}
	if got := rs.EvaluateAll("read", nil); got != Allow {
		t.Errorf("empty patterns should default to [*], got %s", got)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	rs := PlanMode()
	first := rs.EvaluateAll("edit", []string{"main.go"})
	for i := 0; i < 10; i++ {
		if got := rs.EvaluateAll("edit", []string{"main.go"}); got != first {
			t.Fatalf("evaluation not idempotent: %s vs %s", got, first)
		}
	}
}

func TestPlanMode(t *testing.T) {
	rs := PlanMode()

	tests := []struct {
		permission string
		want       Action
	}{
		{"read", Allow},
		{"glob", Allow},
		{"grep", Allow},
		{"symbols_search", Allow},
		{"edit", Deny},
		{"bash", Ask},
	}
	for _, tt := range tests {
		if got := rs.Evaluate(tt.permission, "whatever"); got != tt.want {
			t.Errorf("plan mode %s = %s, want %s", tt.permission, got, tt.want)
		}
	}
}

func TestBuildMode(t *testing.T) {
	rs := BuildMode()
	for _, p := range []string{"read", "edit", "bash"} {
		if got := rs.Evaluate(p, "x"); got != Allow {
			t.Errorf("build mode %s = %s, want allow", p, got)
		}
	}
}
