package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/leandrotocalini/SecondOpinion/internal/llm"
)

const defaultMaxMatches = 100

type searchTextArgs struct {
	Pattern    string `json:"pattern" jsonschema:"description=Regular expression to search for"`
	Path       string `json:"path,omitempty" jsonschema:"description=File or directory to search; defaults to the workspace root"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"description=Maximum number of matching lines to return; defaults to 100"`
}

// SearchText returns the tool that greps file contents inside the
// workspace. Matches are reported as path:line: text. Binary files and
// .git directories are skipped.
func SearchText(ws *Workspace) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Name:        "search_text",
			Description: "Search file contents inside the workspace for a regular expression",
			Parameters:  mustSchema(searchTextArgs{}),
		},
		Run: func(_ context.Context, params json.RawMessage) (string, error) {
			var args searchTextArgs
			if err := json.Unmarshal(params, &args); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			if args.Pattern == "" {
				return "", fmt.Errorf("pattern is required")
			}
			re, err := regexp.Compile(args.Pattern)
			if err != nil {
				return "", fmt.Errorf("invalid pattern %q: %v", args.Pattern, err)
			}
			limit := args.MaxResults
			if limit <= 0 {
				limit = defaultMaxMatches
			}

			target := args.Path
			if target == "" {
				target = "."
			}
			abs, err := ws.Resolve(target)
			if err != nil {
				return "", err
			}

			matches, truncated, err := searchTree(ws, abs, re, limit)
			if err != nil {
				return "", fmt.Errorf("search %s: %w", target, err)
			}
			if len(matches) == 0 {
				return "no matches found", nil
			}
			out := strings.Join(matches, "\n")
			if truncated {
				out += "\n... (more matches not shown)"
			}
			return out, nil
		},
	}
}

func searchTree(ws *Workspace, root string, re *regexp.Regexp, limit int) ([]string, bool, error) {
	var matches []string
	truncated := false

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil
		}

		rel, err := filepath.Rel(ws.Root(), path)
		if err != nil {
			rel = path
		}
		for i, line := range bytes.Split(data, []byte("\n")) {
			if !re.Match(line) {
				continue
			}
			if len(matches) >= limit {
				truncated = true
				return filepath.SkipAll
			}
			text := strings.TrimRight(string(line), "\r")
			matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, text))
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return matches, truncated, nil
}
