package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/plugins"
	"github.com/nextlevelbuilder/clawcore/internal/providers"
	"github.com/nextlevelbuilder/clawcore/internal/session"
	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

const compactionSystemPrompt = `You are summarizing an agent conversation so it can continue in a smaller context window. Produce a structured summary with these sections:

1. Goal: what the user is trying to accomplish.
2. Progress: what has been done so far, including files read or changed.
3. Key facts: paths, identifiers, decisions, and constraints discovered.
4. Next steps: what remains to be done, in order.

Be specific. Prefer exact file paths and names over descriptions. Do not add commentary or preamble.`

const compactionUserPrompt = "Summarize the conversation above following the required structure."

const compactionMarkerText = "[context compaction requested]"

const autoContinueText = "Continue where you left off, following the next steps from the summary."

// compact runs the compaction procedure: push a marker, stream a summary
// over everything up to the marker, then append the summary and optionally
// an auto-continue prompt. Failure rolls the marker back.
func (a *Agent) compact(ctx context.Context, cfg Config, em *emitter, provider providers.Provider, model string) error {
	marker := session.NewTextMessage(session.RoleCompactionMarker, compactionMarkerText)
	if err := a.Session.History.Push(marker); err != nil {
		return err
	}
	em.compactionStart(marker.ID)

	summaryText, err := a.streamSummary(ctx, cfg, provider, model)
	if err != nil {
		a.Session.History.Remove(marker.ID)
		status := protocol.CompactionError
		if ctx.Err() != nil {
			status = protocol.CompactionCanceled
		}
		em.compactionEnd(marker.ID, status)
		return err
	}

	summary := session.NewTextMessage(session.RoleAssistant, summaryText)
	summary.Metadata.Summary = true
	if err := a.Session.History.Push(summary); err != nil {
		a.Session.History.Remove(marker.ID)
		em.compactionEnd(marker.ID, protocol.CompactionError)
		return err
	}

	if cfg.Compaction.Auto {
		if err := a.Session.History.Push(session.NewTextMessage(session.RoleAutoContinue, autoContinueText)); err != nil {
			return err
		}
	}

	a.Session.History.MarkPrunableToolOutputs(0)
	em.compactionEnd(marker.ID, protocol.CompactionDone)
	a.log().Info("compacted session", "session", a.Session.ID, "summary_len", len(summaryText))
	return nil
}

// streamSummary makes the secondary model call over the pre-marker history.
func (a *Agent) streamSummary(ctx context.Context, cfg Config, provider providers.Provider, model string) (string, error) {
	prompt := compactionSystemPrompt
	userPrompt := compactionUserPrompt
	if a.Plugins != nil {
		out := &plugins.CompactingOutput{}
		if err := a.Plugins.RunSessionCompacting(ctx, a.Session.ID, out); err == nil {
			if out.Prompt != "" {
				prompt = out.Prompt
			}
			if len(out.ExtraContext) > 0 {
				userPrompt = strings.Join(out.ExtraContext, "\n\n") + "\n\n" + userPrompt
			}
		}
	}

	// Effective history excluding the marker itself.
	effective := a.Session.History.Effective()
	if n := len(effective); n > 0 && effective[n-1].Role == session.RoleCompactionMarker {
		effective = effective[:n-1]
	}
	messages := []providers.Message{{Role: "system", Content: prompt}}
	messages = append(messages, session.HistoryForModel(effective, session.PrepareOptions{
		AllowExternalPaths: cfg.AllowExternalPaths,
	})...)
	messages = append(messages, providers.Message{Role: "user", Content: userPrompt})

	if cfg.Compaction.Model != "" {
		model = cfg.Compaction.Model
	}

	stream, err := provider.Stream(ctx, providers.Request{
		Model:           model,
		Messages:        messages,
		MaxOutputTokens: 4096,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for part := range stream.Parts() {
		switch part.Type {
		case providers.PartTextDelta:
			b.WriteString(part.Text)
		case providers.PartError:
			return "", part.Err
		}
	}
	if err := stream.Err(); err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("summary call produced no text")
	}
	return b.String(), nil
}
