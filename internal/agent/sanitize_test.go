package agent

import (
	"strings"
	"testing"
)

func TestSanitizeAssistantText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "Hello world.", "Hello world."},
		{"think block removed", "<think>internal</think>The answer is 4.", "The answer is 4."},
		{"thinking block removed", "before <thinking>hmm\nmultiline</thinking> after", "before  after"},
		{"unclosed think dropped to end", "Done.\n<think>dangling", "Done."},
		{"tool xml stripped", `Sure.<tool_call>{"name":"read"}</tool_call>`, `Sure.{"name":"read"}`},
		{"leading blank lines removed", "\n\n  \nresult", "result"},
		{"empty stays empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeAssistantText(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty string must be 0 tokens")
	}
	short := EstimateTokens("hello world")
	long := EstimateTokens(strings.Repeat("hello world ", 100))
	if short <= 0 || long <= short {
		t.Errorf("short=%d long=%d", short, long)
	}
}
