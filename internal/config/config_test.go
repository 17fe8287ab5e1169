package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/clawcore/internal/permission"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.MaxIterations != 50 {
		t.Errorf("maxIterations = %d, want 50", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.CompactionFraction != 0.85 {
		t.Errorf("compactionFraction = %v", cfg.Agent.CompactionFraction)
	}
	if cfg.Server.Port != 18790 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
}

func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
	// comments are allowed
	agent: {
		model: "gpt-5",
		maxIterations: 10,
	},
	rules: [
		{permission: "edit", pattern: "*", action: "deny"},
	],
	server: {port: 9000},
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Model != "gpt-5" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Errorf("maxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if got := cfg.Ruleset().Evaluate("edit", "src/main.go"); got != permission.Deny {
		t.Errorf("edit action = %v, want deny", got)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte("{agent:"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLAWCORE_MODEL", "claude-opus-4")
	t.Setenv("CLAWCORE_PORT", "7777")
	t.Setenv("CLAWCORE_STORE_BACKEND", "sqlite")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Model != "claude-opus-4" {
		t.Errorf("model = %q", cfg.Agent.Model)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("backend = %q", cfg.Store.Backend)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandHome("~/x"); got != filepath.Join(home, "x") {
		t.Errorf("expandHome = %q", got)
	}
	if got := expandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("expandHome = %q", got)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Error("identical configs must hash equal")
	}
	b.Agent.Model = "other"
	if a.Hash() == b.Hash() {
		t.Error("different configs must hash differently")
	}
}
