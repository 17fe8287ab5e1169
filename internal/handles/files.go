// Package handles mints the short stable IDs the model uses in place of
// paths and source positions: F<n> for files, M<n>/S<n>/L<n> for matches,
// symbols and locations. Registries are session-scoped; ids are monotonic
// and never reused within a session.
package handles

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FileRegistry maps F<n> ids to normalized paths. Paths inside the workspace
// are workspace-relative and forward-slashed; external paths are absolute.
type FileRegistry struct {
	mu     sync.Mutex
	nextID int
	byID   map[string]string
	byPath map[string]string
}

// FileSnapshot is the JSON round-trip form of a FileRegistry.
type FileSnapshot struct {
	NextID int               `json:"nextId"`
	ByID   map[string]string `json:"byId,omitempty"`
}

func NewFileRegistry() *FileRegistry {
	return &FileRegistry{
		nextID: 1,
		byID:   make(map[string]string),
		byPath: make(map[string]string),
	}
}

// Intern returns the id for path, minting a fresh F<n> on first sight.
func (r *FileRegistry) Intern(path string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPath[path]; ok {
		return id
	}
	id := fmt.Sprintf("F%d", r.nextID)
	r.nextID++
	r.byID[id] = path
	r.byPath[path] = id
	return id
}

// Resolve returns the path for a file id, or "" when unknown.
func (r *FileRegistry) Resolve(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// Snapshot exports the registry state for session persistence.
func (r *FileRegistry) Snapshot() FileSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]string, len(r.byID))
	for k, v := range r.byID {
		byID[k] = v
	}
	return FileSnapshot{NextID: r.nextID, ByID: byID}
}

// Restore replaces the registry state from a snapshot.
func (r *FileRegistry) Restore(s FileSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID = s.NextID
	if r.nextID < 1 {
		r.nextID = 1
	}
	r.byID = make(map[string]string, len(s.ByID))
	r.byPath = make(map[string]string, len(s.ByID))
	for id, path := range s.ByID {
		r.byID[id] = path
		r.byPath[path] = id
	}
}

// SortedIDs returns all ids ordered numerically (F1, F2, ... F10).
func (r *FileRegistry) SortedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return handleNum(ids[i]) < handleNum(ids[j]) })
	return ids
}

func handleNum(id string) int {
	n := 0
	for _, c := range strings.TrimLeft(id, "FMSL") {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
