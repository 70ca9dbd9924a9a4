// Package tools provides the read-only tools a model may call while
// grounding its answer in the local workspace, plus the registry that
// executes them.
//
// Every tool is confined to a single workspace root. Nothing in this
// package writes, deletes, or executes anything.
package tools

import (
	"context"
	"encoding/json"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

// Tool pairs a calling contract with its implementation.
type Tool struct {
	Spec llm.ToolSpec
	Run  func(ctx context.Context, params json.RawMessage) (string, error)
}
