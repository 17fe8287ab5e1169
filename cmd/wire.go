package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nextlevelbuilder/clawcore/internal/agent"
	"github.com/nextlevelbuilder/clawcore/internal/config"
	"github.com/nextlevelbuilder/clawcore/internal/events"
	"github.com/nextlevelbuilder/clawcore/internal/plugins"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/internal/store"
	"github.com/nextlevelbuilder/clawcore/internal/tools"
	"github.com/nextlevelbuilder/clawcore/internal/tools/builtin"
	"github.com/nextlevelbuilder/clawcore/internal/workspace"
)

// runtimeOptions are per-invocation overrides on top of the config file.
type runtimeOptions struct {
	Model       string
	PlanMode    bool
	AutoApprove bool
	Approval    tools.ApprovalFunc
	Events      *events.Queue
	Callbacks   agent.Callbacks
}

// buildAgent assembles a ready-to-run agent for one session.
func buildAgent(cfg *config.Config, sess *session.Session, opts runtimeOptions, log *slog.Logger) (*agent.Agent, error) {
	registry := providers.DefaultRegistry(cfg.Providers.Anthropic.APIKey, cfg.Providers.OpenAI.APIKey)

	root := cfg.Workspace.Root
	if root == "" {
		root = "."
	}
	if !filepath.IsAbs(root) {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace root: %w", err)
		}
		root = abs
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	toolReg := tools.NewRegistry()
	bash := builtin.NewBashTool()

	agentCfg := agent.Config{
		Model:              firstNonEmpty(opts.Model, cfg.Agent.Model),
		SystemPrompt:       cfg.Agent.SystemPrompt,
		MaxIterations:      cfg.Agent.MaxIterations,
		MaxRetries:         cfg.Agent.MaxRetries,
		MaxOutputTokens:    cfg.Agent.MaxOutputTokens,
		Temperature:        cfg.Agent.Temperature,
		PlanMode:           opts.PlanMode,
		AutoApprove:        opts.AutoApprove,
		AllowExternalPaths: cfg.Workspace.AllowExternalPaths,
		Compaction: agent.CompactionConfig{
			ContextLimit:         cfg.Agent.ContextWindow,
			Fraction:             cfg.Agent.CompactionFraction,
			ReservedOutputTokens: cfg.Agent.ReservedOutputTokens,
			Auto:                 cfg.Agent.AutoCompact,
			Model:                cfg.Agent.CompactionModel,
		},
	}

	pluginReg := plugins.NewRegistry()

	a := &agent.Agent{
		Providers: registry,
		Plugins:   pluginReg,
		Session:   sess,
		Config:    agentCfg,
		Events:    opts.Events,
		Callbacks: opts.Callbacks,
		Log:       log,
	}

	pipeline := &tools.Pipeline{
		Registry:           toolReg,
		Plugins:            pluginReg,
		Ruleset:            cfg.Ruleset(),
		Guard:              workspace.NewGuard(root, cfg.Workspace.AllowExternalPaths),
		Files:              sess.Files,
		Semantic:           sess.Semantic,
		WorkspaceRoot:      root,
		AllowExternalPaths: cfg.Workspace.AllowExternalPaths,
		PlanMode:           opts.PlanMode,
		AutoApprove:        opts.AutoApprove,
		SessionID:          sess.ID,
		Approval:           opts.Approval,
		Log:                log,
	}
	a.Pipeline = pipeline

	// Sub-agent turns run a fresh session against the same stack; the
	// depth guard inside the tool stops recursion past one level.
	taskRun := func(ctx context.Context, prompt string) (string, error) {
		subSess := session.New()
		sub, err := buildAgent(cfg, subSess, runtimeOptions{
			Model:       agentCfg.Model,
			AutoApprove: true,
		}, log)
		if err != nil {
			return "", err
		}
		res, err := sub.Run(ctx, prompt)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}

	if err := builtin.RegisterAll(toolReg, bash, taskRun); err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return a, nil
}

// openStore opens the configured session backend.
func openStore(cfg *config.Config) (store.Store, error) {
	return store.Open(cfg.Store)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
