package agent

import (
	"regexp"
	"strings"
)

// SanitizeAssistantText cleans the accumulated user-visible text of one
// generation before it is stored and surfaced: inline thinking tags and
// tool-call XML artifacts some models leak as plain text are removed.
func SanitizeAssistantText(text string) string {
	if text == "" {
		return text
	}
	text = stripToolCallXML(text)
	text = stripThinkingTags(text)
	text = stripLeadingBlankLines(text)
	return strings.TrimSpace(text)
}

// toolCallXMLPattern matches tool-call markup emitted as text instead of
// proper tool-call stream parts.
var toolCallXMLPattern = regexp.MustCompile(
	`(?s)</?(?:function_calls?|invoke|tool_call|tool_use|parameter)[^>]*>`,
)

var toolCallXMLIndicators = []string{
	"<function_call",
	"<invoke",
	"<tool_call",
	"<tool_use",
	"<parameter name=",
	"</parameter",
}

func stripToolCallXML(text string) string {
	lower := strings.ToLower(text)
	found := false
	for _, ind := range toolCallXMLIndicators {
		if strings.Contains(lower, ind) {
			found = true
			break
		}
	}
	if !found {
		return text
	}
	return strings.TrimSpace(toolCallXMLPattern.ReplaceAllString(text, ""))
}

// Backreferences are unavailable, so each tag gets its own pattern.
var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

// unclosedThinkPattern drops a dangling opening tag through end of text.
var unclosedThinkPattern = regexp.MustCompile(`(?is)<think(?:ing)?>.*$`)

func stripThinkingTags(text string) string {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return text
	}
	for _, pat := range thinkingTagPatterns {
		text = pat.ReplaceAllString(text, "")
	}
	text = unclosedThinkPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func stripLeadingBlankLines(text string) string {
	lines := strings.Split(text, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	return strings.Join(lines[start:], "\n")
}
