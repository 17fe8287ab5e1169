// Package permission evaluates (permission, pattern) pairs against an
// ordered ruleset. Rules are evaluated last-match-wins so hosts can layer a
// broad default first and carve out exceptions after it.
package permission

import (
	"path"
	"strings"
)

// Action is a rule outcome. Ordering matters for Combine: deny > ask > allow.
type Action string

const (
	Allow Action = "allow"
	Ask   Action = "ask"
	Deny  Action = "deny"
)

// Rule matches a permission name against a pattern. "*" on either side
// matches anything.
type Rule struct {
	Permission string `json:"permission"`
	Pattern    string `json:"pattern"`
	Action     Action `json:"action"`
}

// Ruleset is an ordered list of rules. The zero value is valid and answers
// Ask for everything.
type Ruleset []Rule

// Evaluate returns the action of the last rule matching (permission,
// pattern), or Ask when no rule matches.
func (rs Ruleset) Evaluate(permission, pattern string) Action {
	action := Ask
	for _, r := range rs {
		if r.matches(permission, pattern) {
			action = r.Action
		}
	}
	return action
}

// EvaluateAll evaluates every pattern and combines the per-pattern actions
// with monotone min: a single deny wins over everything, a single ask wins
// over allow.
func (rs Ruleset) EvaluateAll(permission string, patterns []string) Action {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	combined := Allow
	for _, p := range patterns {
		combined = Combine(combined, rs.Evaluate(permission, p))
	}
	return combined
}

// Combine returns the more restrictive of two actions.
func Combine(a, b Action) Action {
	if a == Deny || b == Deny {
		return Deny
	}
	if a == Ask || b == Ask {
		return Ask
	}
	return Allow
}

func (r Rule) matches(permission, pattern string) bool {
	if r.Permission != "*" && r.Permission != permission {
		return false
	}
	return matchPattern(r.Pattern, pattern)
}

// matchPattern supports "*" (anything), glob-style matching via path.Match,
// and "prefix*" fallback for patterns path.Match cannot express across
// separators (e.g. "src/*" should cover "src/a/b.go").
func matchPattern(rulePat, value string) bool {
	if rulePat == "*" || rulePat == value {
		return true
	}
	if ok, err := path.Match(rulePat, value); err == nil && ok {
		return true
	}
	if strings.HasSuffix(rulePat, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(rulePat, "*"))
	}
	return false
}

// readOnlyPermissions are the tool permissions plan mode leaves open.
var readOnlyPermissions = []string{
	"read", "list", "glob", "grep",
	"symbols_search", "symbols_peek", "symbols_outline",
}

// PlanMode returns the default plan-mode ruleset: read/search tools allowed,
// edits denied, everything else asks.
func PlanMode() Ruleset {
	rs := Ruleset{{Permission: "*", Pattern: "*", Action: Ask}}
	for _, p := range readOnlyPermissions {
		rs = append(rs, Rule{Permission: p, Pattern: "*", Action: Allow})
	}
	rs = append(rs, Rule{Permission: "edit", Pattern: "*", Action: Deny})
	return rs
}

// BuildMode returns the default build-mode ruleset: everything allowed.
func BuildMode() Ruleset {
	return Ruleset{{Permission: "*", Pattern: "*", Action: Allow}}
}
