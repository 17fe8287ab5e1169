package agent

// Config is read-only after session start; hosts may swap it between turns.
type Config struct {
	Model           string
	SystemPrompt    string
	MaxIterations   int
	MaxRetries      int
	Temperature     *float64
	TopP            *float64
	TopK            *int
	MaxOutputTokens int

	// ToolFilter restricts the offered tool set by glob patterns on tool
	// ids. Empty offers everything.
	ToolFilter []string

	PlanMode           bool
	AutoApprove        bool
	AllowExternalPaths bool

	// BuildSwitch is set for the first turn after leaving plan mode.
	BuildSwitch bool

	Compaction CompactionConfig
}

// CompactionConfig bounds the context-overflow handling.
type CompactionConfig struct {
	// ContextLimit is the model's context window in tokens.
	ContextLimit int
	// Fraction of the context at which compaction triggers.
	Fraction float64
	// ReservedOutputTokens is headroom kept for the next generation.
	ReservedOutputTokens int
	// Auto appends a continue prompt after the summary so the turn resumes.
	Auto bool
	// PruneProtectTokens of recent tool output are kept verbatim; older
	// output bodies become prunable.
	PruneProtectTokens int
	// Model for the summary call; empty reuses the turn's model.
	Model string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxIterations <= 0 {
		out.MaxIterations = 50
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.MaxOutputTokens <= 0 {
		out.MaxOutputTokens = 8192
	}
	if out.Compaction.ContextLimit <= 0 {
		out.Compaction.ContextLimit = 200000
	}
	if out.Compaction.Fraction <= 0 {
		out.Compaction.Fraction = 0.85
	}
	if out.Compaction.ReservedOutputTokens <= 0 {
		out.Compaction.ReservedOutputTokens = out.MaxOutputTokens
	}
	if out.Compaction.PruneProtectTokens <= 0 {
		out.Compaction.PruneProtectTokens = 40000
	}
	return out
}
