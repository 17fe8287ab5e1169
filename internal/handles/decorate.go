package handles

import (
	"fmt"
	"sort"
	"strings"
)

// GlobData is the structured payload a glob-protocol tool returns.
type GlobData struct {
	Files     []string `json:"files"`
	Truncated bool     `json:"truncated,omitempty"`
}

// GrepMatch is one row of a grep-protocol tool result.
type GrepMatch struct {
	Path      string `json:"path"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	Text      string `json:"text"`
}

// GrepData is the structured payload a grep-protocol tool returns.
type GrepData struct {
	Matches   []GrepMatch `json:"matches"`
	Truncated bool        `json:"truncated,omitempty"`
}

// SymbolRow is one row of a symbols-search or symbols-peek result.
type SymbolRow struct {
	Name    string `json:"name"`
	Kind    string `json:"kind,omitempty"`
	Path    string `json:"path"`
	Range   Range  `json:"range"`
	Snippet string `json:"snippet,omitempty"`
}

// SymbolsData is the structured payload of the symbols tools.
type SymbolsData struct {
	Symbols   []SymbolRow `json:"symbols"`
	Truncated bool        `json:"truncated,omitempty"`
}

// DecorateGlob interns a file handle per path and renders the model-facing
// table ("F1  src/foo.ts"). Rendering goes to metadata.outputText so the
// structured data stays available to hosts.
func DecorateGlob(files *FileRegistry, data GlobData) string {
	var b strings.Builder
	b.WriteString("Use fileId with read/edit/symbols tools instead of spelling the path.\n")
	for _, f := range data.Files {
		id := files.Intern(f)
		fmt.Fprintf(&b, "%s  %s\n", id, f)
	}
	if data.Truncated {
		b.WriteString("(result truncated — narrow the pattern to see more)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// DecorateGrep groups matches by file, mints one matchId per row and renders
// the table. Matches within a file are ordered by (line, character); files
// keep the underlying tool's ordering.
func DecorateGrep(files *FileRegistry, sem *SemanticRegistry, data GrepData) string {
	byFile := make(map[string][]GrepMatch)
	var order []string
	for _, m := range data.Matches {
		if _, seen := byFile[m.Path]; !seen {
			order = append(order, m.Path)
		}
		byFile[m.Path] = append(byFile[m.Path], m)
	}

	var b strings.Builder
	var first *Handle
	for _, path := range order {
		rows := byFile[path]
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Line != rows[j].Line {
				return rows[i].Line < rows[j].Line
			}
			return rows[i].Character < rows[j].Character
		})

		fileID := files.Intern(path)
		fmt.Fprintf(&b, "%s %s\n", fileID, path)
		for _, m := range rows {
			h := sem.CreateMatch(fileID, m.Line, m.Character, m.Text)
			if first == nil {
				firstCopy := h
				first = &firstCopy
			}
			fmt.Fprintf(&b, "  %s Line %d, Character %d: %s\n", h.ID, m.Line, m.Character, strings.TrimSpace(m.Text))
		}
	}
	if data.Truncated {
		b.WriteString("(result truncated)\n")
	}
	if first != nil {
		fmt.Fprintf(&b, "Next: symbols_peek %s or lsp hover at %s line %d character %d.",
			first.ID, first.FileID, first.Range.Start.Line, first.Range.Start.Character)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DecorateSymbolsSearch mints S<n> handles per row. Tie-breaks keep the
// underlying tool's ordering; the registry only allocates ids.
func DecorateSymbolsSearch(files *FileRegistry, sem *SemanticRegistry, data SymbolsData) string {
	var b strings.Builder
	for _, row := range data.Symbols {
		fileID := files.Intern(row.Path)
		h := sem.Create(KindSymbol, fileID, row.Range, row.Snippet, row.Name)
		fmt.Fprintf(&b, "%s %s %s  %s %s:%d\n", h.ID, row.Kind, row.Name, fileID, row.Path, row.Range.Start.Line)
	}
	if data.Truncated {
		b.WriteString("(result truncated)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// DecorateSymbolsPeek mints L<n> handles for the locations inside a peeked
// symbol body.
func DecorateSymbolsPeek(files *FileRegistry, sem *SemanticRegistry, data SymbolsData) string {
	var b strings.Builder
	for _, row := range data.Symbols {
		fileID := files.Intern(row.Path)
		h := sem.Create(KindLoc, fileID, row.Range, row.Snippet, row.Name)
		fmt.Fprintf(&b, "%s %s %s:%d-%d\n", h.ID, row.Name, row.Path, row.Range.Start.Line, row.Range.End.Line)
		if row.Snippet != "" {
			fmt.Fprintf(&b, "  %s\n", strings.TrimSpace(row.Snippet))
		}
	}
	if data.Truncated {
		b.WriteString("(result truncated)\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
