package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const grepHitCap = 50

func decode(input string) (map[string]any, error) {
	args := make(map[string]any)
	if strings.TrimSpace(input) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func intArg(args map[string]any, key string) int {
	if f, ok := args[key].(float64); ok {
		return int(f)
	}
	return 0
}

// GlobTool matches files by pattern, recursive ** supported, newest
// first.
type GlobTool struct{}

func (GlobTool) Definition() Definition {
	return Definition{
		Name:        "glob",
		Description: "Find files matching a glob pattern (supports **), sorted by modification time.",
		Parameters: map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Glob pattern, e.g. **/*.go"},
			"path":    map[string]any{"type": "string", "description": "Directory to search from"},
		},
		Required: []string{"pattern"},
	}
}

func (GlobTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	pattern, _ := args["pattern"].(string)
	root, _ := args["path"].(string)
	if root == "" {
		root = tc.WorkDir
	}
	resolved, err := resolvePath(tc.WorkDir, root)
	if err != nil {
		return Errorf("%v", err)
	}

	matches, err := doublestar.Glob(os.DirFS(resolved), pattern)
	if err != nil {
		return Errorf("bad pattern %q: %v", pattern, err)
	}
	if len(matches) == 0 {
		return Ok("none")
	}

	type hit struct {
		path  string
		mtime time.Time
	}
	hits := make([]hit, 0, len(matches))
	for _, m := range matches {
		h := hit{path: m}
		if info, err := os.Stat(filepath.Join(resolved, m)); err == nil {
			h.mtime = info.ModTime()
		}
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].mtime.After(hits[j].mtime) })

	paths := make([]string, len(hits))
	for i, h := range hits {
		paths[i] = h.path
	}
	return Ok(strings.Join(paths, "\n"))
}

// GrepTool walks files under path looking for a regex, capped at 50
// hits.
type GrepTool struct{}

func (GrepTool) Definition() Definition {
	return Definition{
		Name:        "grep",
		Description: "Search file contents for a regular expression.",
		Parameters: map[string]any{
			"pattern": map[string]any{"type": "string", "description": "Regular expression"},
			"path":    map[string]any{"type": "string", "description": "Directory or file to search"},
		},
		Required: []string{"pattern"},
	}
}

func (GrepTool) Run(ctx context.Context, call Call, tc *Context) Result {
	args, err := decode(call.Input)
	if err != nil {
		return Errorf("invalid arguments: %v", err)
	}
	pattern, _ := args["pattern"].(string)
	root, _ := args["path"].(string)
	if root == "" {
		root = tc.WorkDir
	}
	resolved, err := resolvePath(tc.WorkDir, root)
	if err != nil {
		return Errorf("%v", err)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return Errorf("bad pattern %q: %v", pattern, err)
	}

	var hits []string
	walkErr := filepath.WalkDir(resolved, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(tc.WorkDir, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				hits = append(hits, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimSpace(line)))
				if len(hits) >= grepHitCap {
					return fs.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != fs.SkipAll {
		return Errorf("search interrupted: %v", walkErr)
	}

	if len(hits) == 0 {
		return Ok("none")
	}
	return Ok(strings.Join(hits, "\n"))
}
