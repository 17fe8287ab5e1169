// Package tools defines the tool contract and the execution pipeline that
// gates every call: handle resolution, permissions, plan mode, shell safety,
// approval, and output decoration.
package tools

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/clawcore/pkg/protocol"
)

// MaxToolResultLength caps formatted tool output sent to the model.
const MaxToolResultLength = 40000

// maxBlockedPaths bounds the blockedPaths metadata list.
const maxBlockedPaths = 20

// PatternKind selects how a permission-pattern extractor treats its value.
type PatternKind string

const (
	PatternPath    PatternKind = "path"
	PatternCommand PatternKind = "command"
	PatternRaw     PatternKind = "raw"
)

// PatternExtractor pulls one permission pattern out of the call args.
type PatternExtractor struct {
	Arg  string      `json:"arg"`
	Kind PatternKind `json:"kind"`
}

// InputProtocol flags which handle kinds the pipeline resolves before the
// handler runs.
type InputProtocol struct {
	FileID         bool `json:"fileId,omitempty"`
	SemanticHandle bool `json:"semanticHandle,omitempty"`
}

// OutputProtocol flags which decoration the pipeline applies to the result.
type OutputProtocol struct {
	Glob          bool `json:"glob,omitempty"`
	Grep          bool `json:"grep,omitempty"`
	SymbolsSearch bool `json:"symbolsSearch,omitempty"`
	SymbolsPeek   bool `json:"symbolsPeek,omitempty"`
}

// Metadata advertises a tool's policy surface.
type Metadata struct {
	Permission            string             `json:"permission,omitempty"`
	PermissionPatterns    []PatternExtractor `json:"permissionPatterns,omitempty"`
	ReadOnly              bool               `json:"readOnly,omitempty"`
	RequiresApproval      bool               `json:"requiresApproval,omitempty"`
	SupportsExternalPaths bool               `json:"supportsExternalPaths,omitempty"`
	Input                 InputProtocol      `json:"input,omitempty"`
	Output                OutputProtocol     `json:"output,omitempty"`
}

// ExecutionKind distinguishes in-process handlers from shell-backed tools.
type ExecutionKind string

const (
	ExecFunction ExecutionKind = "function"
	ExecShell    ExecutionKind = "shell"
)

// Context is what a handler receives alongside its args. The embedded
// context.Context carries cancellation.
type Context struct {
	Ctx                context.Context
	WorkspaceRoot      string
	AllowExternalPaths bool
	SessionID          string
	Log                *slog.Logger
}

// Handler executes one tool call.
type Handler func(args map[string]any, tc Context) *Result

// Definition is one registered tool.
type Definition struct {
	ID          string
	Name        string
	Description string
	Parameters  map[string]any // JSON schema for the args
	Execution   ExecutionKind
	Metadata    Metadata
	Handler     Handler
}

// ResultMetadata annotates a tool result for the pipeline and front-ends.
type ResultMetadata struct {
	ErrorCode             protocol.ErrorCode `json:"errorCode,omitempty"`
	Truncated             bool               `json:"truncated,omitempty"`
	OutputText            string             `json:"outputText,omitempty"`
	Title                 string             `json:"title,omitempty"`
	BlockedPaths          []string           `json:"blockedPaths,omitempty"`
	BlockedPathsTruncated bool               `json:"blockedPathsTruncated,omitempty"`
}

// Result is the unified return type from tool execution.
type Result struct {
	Success  bool            `json:"success"`
	Data     any             `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Metadata *ResultMetadata `json:"metadata,omitempty"`
}

// Ok wraps data in a successful result.
func Ok(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Errorf builds a failed result with a plain message.
func Errorf(msg string) *Result {
	return &Result{Success: false, Error: msg}
}

// Refusal builds a policy refusal carrying an error code.
func Refusal(code protocol.ErrorCode, msg string) *Result {
	return &Result{Success: false, Error: msg, Metadata: &ResultMetadata{ErrorCode: code}}
}

// Meta returns the metadata, allocating it on first use.
func (r *Result) Meta() *ResultMetadata {
	if r.Metadata == nil {
		r.Metadata = &ResultMetadata{}
	}
	return r.Metadata
}
