package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

type readFileArgs struct {
	Path string `json:"path" jsonschema:"description=Path of the file to read; relative paths resolve against the workspace root"`
}

// ReadFile returns the tool that reads one file inside the workspace.
func ReadFile(ws *Workspace) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "read_file",
			Description: "Read the contents of a file inside the workspace",
			Parameters:  mustSchema(readFileArgs{}),
		},
		Run: func(_ context.Context, params json.RawMessage) (string, error) {
			var args readFileArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if args.Path == "" {
				return "", fmt.Errorf("path is required")
			}
			abs, err := ws.Resolve(args.Path)
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", args.Path, err)
			}
			return string(data), nil
		},
	}
}
