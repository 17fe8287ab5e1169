// Package safety classifies shell command strings before execution. The
// analysis is lexical: it cannot prove a command safe, it only sorts commands
// into allow / needs-approval / deny buckets for the tool pipeline to act on.
package safety

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/clawcore/internal/workspace"
)

// Action is the analyzer verdict for a command.
type Action string

const (
	Allow         Action = "allow"
	NeedsApproval Action = "needs_approval"
	Deny          Action = "deny"
)

// Verdict is the result of analyzing one command string.
type Verdict struct {
	Action Action
	Reason string
}

// Deny is reserved for commands whose side effects are irreversible and
// categorically unsafe. Everything recoverable goes through approval instead.
var denyPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\brm\s+(-[a-z]*[rf][a-z]*\s+)+(/|~)\s*$`), "recursive deletion of root or home"},
	{regexp.MustCompile(`\brm\s+(-[a-z]*[rf][a-z]*\s+)+(/|~)(\s|$)`), "recursive deletion of root or home"},
	{regexp.MustCompile(`:\(\)\s*\{.*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`\bcurl\b[^|]*\|\s*(ba|z|fi)?sh\b`), "piping remote content into a shell"},
	{regexp.MustCompile(`\bwget\b[^|]*\|\s*(ba|z|fi)?sh\b`), "piping remote content into a shell"},
	{regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`\bdd\s+[^|]*of=/dev/(sd|nvme|hd)`), "raw write to block device"},
}

var approvalPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\bsudo\b`), "privilege escalation"},
	{regexp.MustCompile(`\bcurl\b`), "network fetch"},
	{regexp.MustCompile(`\bwget\b`), "network fetch"},
	{regexp.MustCompile(`\bgit\s+push\s+[^|]*(--force|-f)\b`), "force push"},
	{regexp.MustCompile(`\bgit\s+branch\s+[^|]*-D\b`), "force branch delete"},
	{regexp.MustCompile(`\bgit\s+push\s+[^|]*--delete\b`), "remote branch delete"},
	{regexp.MustCompile(`\bgit\s+reset\s+--hard\b`), "destructive git reset"},
	{regexp.MustCompile(`\bgit\s+clean\s+[^|]*-[a-z]*f`), "destructive git clean"},
}

// longRunningPatterns is a closed list of common dev-server invocations.
// Matched commands must either run in background mode or carry a finite
// timeout; the pipeline rejects them otherwise.
var longRunningPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^npm\s+(run\s+)?(dev|start|serve)\b`),
	regexp.MustCompile(`^(pnpm|yarn|bun)\s+(run\s+)?(dev|start|serve)\b`),
	regexp.MustCompile(`^(npx\s+)?vite\b`),
	regexp.MustCompile(`^(npx\s+)?next\s+(dev|start)\b`),
	regexp.MustCompile(`^(npx\s+)?(webpack-dev-server|parcel\s+serve)\b`),
	regexp.MustCompile(`^python3?\s+-m\s+http\.server\b`),
	regexp.MustCompile(`^(uvicorn|gunicorn|hypercorn)\b`),
	regexp.MustCompile(`^flask\s+run\b`),
	regexp.MustCompile(`^(rails|bin/rails)\s+s(erver)?\b`),
	regexp.MustCompile(`^php\s+-S\b`),
	regexp.MustCompile(`^(cargo|go)\s+run\b.*\b(serve|server)\b`),
	regexp.MustCompile(`^(node|deno|bun)\s+.*\b(server|serve)\b`),
	regexp.MustCompile(`^docker(\s+-[a-z-]+)*\s+compose\s+up\b`),
	regexp.MustCompile(`^tail\s+-[a-z]*f\b`),
}

var envAssignPrefix = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*=\S*\s+)+`)

// Analyze classifies a command string. All commands not matching a deny or
// approval rule default to allow.
func Analyze(command string) Verdict {
	for _, p := range denyPatterns {
		if p.re.MatchString(command) {
			return Verdict{Action: Deny, Reason: p.reason}
		}
	}
	for _, p := range approvalPatterns {
		if p.re.MatchString(command) {
			return Verdict{Action: NeedsApproval, Reason: p.reason}
		}
	}
	if IsLongRunning(command) {
		return Verdict{Action: NeedsApproval, Reason: "long-running server command"}
	}
	return Verdict{Action: Allow}
}

// IsLongRunning reports whether the command matches the dev-server heuristic.
// Leading VAR=value assignments are stripped and the command lowercased
// before matching.
func IsLongRunning(command string) bool {
	cmd := strings.ToLower(strings.TrimSpace(command))
	cmd = envAssignPrefix.ReplaceAllString(cmd, "")
	for _, re := range longRunningPatterns {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

// pathTokenPrefixes mark tokens worth classifying as paths. Bare words are
// skipped: treating every argument as a path would flood the guard with
// false positives.
var pathTokenPrefixes = []string{"/", "./", "../", "~/"}

// FindExternalPathRefs lexically scans a shell command for path-like tokens
// and returns the absolute form of every token that resolves outside the
// workspace. Best effort only; quoting and expansion are not interpreted.
func FindExternalPathRefs(command, cwd string, guard *workspace.Guard) []string {
	var blocked []string
	seen := make(map[string]bool)

	for _, tok := range tokenize(command) {
		tok = strings.Trim(tok, `"'`)
		// Strip --flag=value down to the value.
		if i := strings.Index(tok, "="); i >= 0 && strings.HasPrefix(tok, "-") {
			tok = tok[i+1:]
		}
		if !hasPathPrefix(tok) {
			continue
		}
		abs, external := guard.Classify(resolveAgainst(tok, cwd, guard.Root))
		if external && !seen[abs] {
			seen[abs] = true
			blocked = append(blocked, abs)
		}
	}
	return blocked
}

func hasPathPrefix(tok string) bool {
	for _, p := range pathTokenPrefixes {
		if strings.HasPrefix(tok, p) {
			return true
		}
	}
	return false
}

func resolveAgainst(tok, cwd, root string) string {
	if strings.HasPrefix(tok, "/") || strings.HasPrefix(tok, "~/") {
		return tok
	}
	base := cwd
	if base == "" {
		base = root
	}
	return base + "/" + tok
}

func tokenize(command string) []string {
	return strings.FieldsFunc(command, func(r rune) bool {
		switch r {
		case ' ', '\t', '\n', ';', '|', '&', '(', ')', '<', '>':
			return true
		}
		return false
	})
}
