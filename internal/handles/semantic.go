package handles

import (
	"fmt"
	"sync"
)

// Kind distinguishes the three semantic handle families.
type Kind string

const (
	KindMatch  Kind = "match"
	KindSymbol Kind = "symbol"
	KindLoc    Kind = "loc"
)

// Position is a zero-based line/character pair.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans from Start to End, inclusive of Start.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Handle is a minted semantic handle. FileID refers to the file registry.
type Handle struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	FileID  string `json:"fileId"`
	Range   Range  `json:"range"`
	Snippet string `json:"snippet,omitempty"`
	Name    string `json:"name,omitempty"`
}

// SemanticRegistry mints and resolves match/symbol/loc handles. Handles are
// exported at turn end and restored at the next turn so ids stay stable
// across turns within one session.
type SemanticRegistry struct {
	mu      sync.Mutex
	nextIDs map[Kind]int
	byID    map[string]Handle
}

// SemanticSnapshot is the JSON round-trip form of a SemanticRegistry.
type SemanticSnapshot struct {
	NextIDs map[Kind]int      `json:"nextIds"`
	ByID    map[string]Handle `json:"byId,omitempty"`
}

func NewSemanticRegistry() *SemanticRegistry {
	return &SemanticRegistry{
		nextIDs: map[Kind]int{KindMatch: 1, KindSymbol: 1, KindLoc: 1},
		byID:    make(map[string]Handle),
	}
}

var kindPrefix = map[Kind]string{KindMatch: "M", KindSymbol: "S", KindLoc: "L"}

// Create mints a handle of the given kind. The caller fills Snippet/Name as
// appropriate for the source tool.
func (r *SemanticRegistry) Create(kind Kind, fileID string, rng Range, snippet, name string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := fmt.Sprintf("%s%d", kindPrefix[kind], r.nextIDs[kind])
	r.nextIDs[kind]++
	h := Handle{ID: id, Kind: kind, FileID: fileID, Range: rng, Snippet: snippet, Name: name}
	r.byID[id] = h
	return h
}

// CreateMatch mints an M<n> handle for a single-position grep match.
func (r *SemanticRegistry) CreateMatch(fileID string, line, character int, snippet string) Handle {
	pos := Position{Line: line, Character: character}
	return r.Create(KindMatch, fileID, Range{Start: pos, End: pos}, snippet, "")
}

// Resolve looks up a handle of the expected kind. ok is false for unknown
// ids and for ids of a different kind.
func (r *SemanticRegistry) Resolve(id string, kind Kind) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byID[id]
	if !ok || h.Kind != kind {
		return Handle{}, false
	}
	return h, true
}

// Snapshot exports registry state for turn-boundary persistence.
func (r *SemanticRegistry) Snapshot() SemanticSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[Kind]int, len(r.nextIDs))
	for k, v := range r.nextIDs {
		next[k] = v
	}
	byID := make(map[string]Handle, len(r.byID))
	for k, v := range r.byID {
		byID[k] = v
	}
	return SemanticSnapshot{NextIDs: next, ByID: byID}
}

// Restore replaces registry state from a snapshot.
func (r *SemanticRegistry) Restore(s SemanticSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextIDs = map[Kind]int{KindMatch: 1, KindSymbol: 1, KindLoc: 1}
	for k, v := range s.NextIDs {
		if v > 0 {
			r.nextIDs[k] = v
		}
	}
	r.byID = make(map[string]Handle, len(s.ByID))
	for k, v := range s.ByID {
		r.byID[k] = v
	}
}
