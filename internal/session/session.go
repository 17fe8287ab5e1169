package session

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/clawcore/internal/handles"
)

// Session is the unit of persisted conversation state. The owning turn loop
// mutates it exclusively; hosts persist it as opaque bytes between turns.
type Session struct {
	ID          string
	History     *History
	PendingPlan string

	Files    *handles.FileRegistry
	Semantic *handles.SemanticRegistry
}

// New creates an empty session with a generated id.
func New() *Session {
	return NewWithID(uuid.NewString())
}

// NewWithID creates an empty session under a caller-chosen id.
func NewWithID(id string) *Session {
	return &Session{
		ID:       id,
		History:  &History{},
		Files:    handles.NewFileRegistry(),
		Semantic: handles.NewSemanticRegistry(),
	}
}

// snapshot is the wire layout. All fields round-trip through JSON.
type snapshot struct {
	SessionID   string                    `json:"sessionId,omitempty"`
	History     *History                  `json:"history"`
	PendingPlan string                    `json:"pendingPlan,omitempty"`
	FileHandles *handles.FileSnapshot     `json:"fileHandles,omitempty"`
	Semantic    *handles.SemanticSnapshot `json:"semanticHandles,omitempty"`
}

// MarshalJSON serializes the session including both handle tables.
func (s *Session) MarshalJSON() ([]byte, error) {
	snap := snapshot{
		SessionID:   s.ID,
		History:     s.History,
		PendingPlan: s.PendingPlan,
	}
	if s.Files != nil {
		fs := s.Files.Snapshot()
		snap.FileHandles = &fs
	}
	if s.Semantic != nil {
		ss := s.Semantic.Snapshot()
		snap.Semantic = &ss
	}
	return json.Marshal(snap)
}

// UnmarshalJSON restores a session. Missing handle tables restore empty.
func (s *Session) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	s.ID = snap.SessionID
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.History = snap.History
	if s.History == nil {
		s.History = &History{}
	}
	s.PendingPlan = snap.PendingPlan
	s.Files = handles.NewFileRegistry()
	if snap.FileHandles != nil {
		s.Files.Restore(*snap.FileHandles)
	}
	s.Semantic = handles.NewSemanticRegistry()
	if snap.Semantic != nil {
		s.Semantic.Restore(*snap.Semantic)
	}
	return nil
}
