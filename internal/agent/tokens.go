package agent

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/nextlevelbuilder/clawcore/internal/session"
)

// Token estimation backs the compaction trigger when the provider has not
// yet reported usage for a message. cl100k_base over-counts slightly for
// Claude models, which errs toward compacting early rather than overflowing.

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// EstimateTokens counts tokens in a string, falling back to a bytes/4
// heuristic if the encoding is unavailable.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := tokenEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text)/4 + 1
}

// EstimateHistoryTokens sums a rough token count over the effective history,
// including tool inputs and outputs.
func EstimateHistoryTokens(effective []*session.Message) int {
	total := 0
	for _, m := range effective {
		for _, p := range m.Parts {
			switch p.Kind {
			case session.PartText, session.PartReasoning:
				total += EstimateTokens(p.Text)
			case session.PartDynamicTool:
				total += EstimateTokens(p.Output) + EstimateTokens(p.ToolName) + 16
			}
		}
		total += 8 // per-message framing overhead
	}
	return total
}
