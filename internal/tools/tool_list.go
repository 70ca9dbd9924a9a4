package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

type listFilesArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list; defaults to the workspace root"`
}

// ListFiles returns the tool that lists one directory inside the workspace.
// Directories in the output carry a trailing slash.
func ListFiles(ws *Workspace) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "list_files",
			Description: "List the entries of a directory inside the workspace",
			Parameters:  mustSchema(listFilesArgs{}),
		},
		Run: func(_ context.Context, params json.RawMessage) (string, error) {
			var args listFilesArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			dir := args.Path
			if dir == "" {
				dir = "."
			}
			abs, err := ws.Resolve(dir)
			if err != nil {
				return "", err
			}
			entries, err := os.ReadDir(abs)
			if err != nil {
				return "", fmt.Errorf("list %s: %w", dir, err)
			}
			if len(entries) == 0 {
				return "directory is empty", nil
			}
			var b strings.Builder
			for i, entry := range entries {
				if i > 0 {
					b.WriteString("\n")
				}
				b.WriteString(entry.Name())
				if entry.IsDir() {
					b.WriteString("/")
				}
			}
			return b.String(), nil
		},
	}
}
