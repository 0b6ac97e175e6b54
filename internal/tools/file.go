package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// resolvePath anchors a tool path inside the working directory and
// rejects traversal outside it.
func resolvePath(workDir, path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(workDir, p)
	}
	p = filepath.Clean(p)

	root := filepath.Clean(workDir)
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes working directory", path)
	}
	return p, nil
}

// ViewTool returns file contents with line numbers, optionally ranged.
type ViewTool struct{}

func (ViewTool) Definition() Definition {
	return Definition{
		Name:        "view",
		Description: "Read a file with line numbers. Offset and limit select a line range.",
		Parameters: map[string]any{
			"path":   map[string]any{"type": "string", "description": "File path to read"},
			"offset": map[string]any{"type": "integer", "description": "Zero-based first line"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum lines to return"},
		},
		Required: []string{"path"},
	}
}

func (ViewTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	path, _ := args["path"].(string)
	offset := intArg(args, "offset")
	limit := intArg(args, "limit")

	resolved, err := resolvePath(tc.WorkDir, path)
	if err != nil {
		return Errorf("%v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Errorf("read %s: %v", path, err)
	}

	lines := strings.Split(string(data), "\n")
	start := offset
	if start < 0 {
		start = 0
	}
	if start > len(lines) {
		start = len(lines)
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&sb, "%4d| %s\n", start+i+1, line)
	}
	return Ok(sb.String())
}

// WriteTool creates or overwrites a file inside the workspace.
type WriteTool struct{}

func (WriteTool) Definition() Definition {
	return Definition{
		Name:        "write",
		Description: "Create or overwrite a file with the given content.",
		Parameters: map[string]any{
			"path":    map[string]any{"type": "string", "description": "File path to write"},
			"content": map[string]any{"type": "string", "description": "Full file content"},
		},
		Required:        []string{"path", "content"},
		NeedsPermission: true,
	}
}

func (WriteTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)

	resolved, err := resolvePath(tc.WorkDir, path)
	if err != nil {
		return Errorf("%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Errorf("create parent dir: %v", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Errorf("write %s: %v", path, err)
	}
	return Ok(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditTool replaces one unique occurrence of old_string.
type EditTool struct{}

func (EditTool) Definition() Definition {
	return Definition{
		Name:        "edit",
		Description: "Replace old_string with new_string in a file. old_string must occur exactly once.",
		Parameters: map[string]any{
			"path":       map[string]any{"type": "string", "description": "File path to edit"},
			"old_string": map[string]any{"type": "string", "description": "Exact text to replace"},
			"new_string": map[string]any{"type": "string", "description": "Replacement text"},
		},
		Required:        []string{"path", "old_string", "new_string"},
		NeedsPermission: true,
	}
}

func (EditTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	path, _ := args["path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)

	resolved, err := resolvePath(tc.WorkDir, path)
	if err != nil {
		return Errorf("%v", err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return Errorf("read %s: %v", path, err)
	}
	text := string(data)

	switch count := strings.Count(text, oldStr); {
	case oldStr == "":
		return Errorf("old_string is empty")
	case count == 0:
		return Errorf("old_string not found in %s", path)
	case count > 1:
		return Errorf("old_string appears %d times in %s, must be unique", count, path)
	}

	updated := strings.Replace(text, oldStr, newStr, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return Errorf("write %s: %v", path, err)
	}
	return Ok(fmt.Sprintf("edited %s (%s)", path, diffStat(text, updated)))
}

// diffStat summarizes an edit as added/removed character counts.
func diffStat(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	var added, removed int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len(d.Text)
		case diffmatchpatch.DiffDelete:
			removed += len(d.Text)
		}
	}
	return fmt.Sprintf("+%d -%d chars", added, removed)
}

// LsTool lists a directory.
type LsTool struct{}

func (LsTool) Definition() Definition {
	return Definition{
		Name:        "ls",
		Description: "List files and directories in a path (defaults to the working directory).",
		Parameters: map[string]any{
			"path": map[string]any{"type": "string", "description": "Directory to list"},
		},
		Required: []string{},
	}
}

func (LsTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(tc.WorkDir, path)
	if err != nil {
		return Errorf("%v", err)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Errorf("list %s: %v", path, err)
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			sb.WriteString("[DIR]  " + entry.Name() + "/\n")
		} else {
			sb.WriteString("[FILE] " + entry.Name() + "\n")
		}
	}
	if sb.Len() == 0 {
		return Ok("(empty directory)")
	}
	return Ok(sb.String())
}
