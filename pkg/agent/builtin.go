package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Workspace scopes the filesystem tools to a per-run directory. Every
// path argument resolves inside the root; traversal outside it is
// rejected before any filesystem call.
type Workspace struct {
	root string
}

// NewWorkspace creates the directory if needed.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string { return w.root }

var errOutsideWorkspace = errors.New("path escapes the workspace")

// resolve turns a tool-supplied relative path into an absolute one inside
// the root.
func (w *Workspace) resolve(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	abs := filepath.Join(w.root, rel)
	abs = filepath.Clean(abs)
	if abs != w.root && !strings.HasPrefix(abs, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errOutsideWorkspace, rel)
	}
	return abs, nil
}

// BuiltinTools returns the standard tool set rooted at ws. Action-class
// assignment for these names lives in the policy gate, not here.
func BuiltinTools(ws *Workspace) []Tool {
	pathSchema := json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Path relative to the workspace"}},"required":["path"]}`)

	return []Tool{
		&FuncTool{
			ToolName:        "read_file",
			ToolDescription: "Read a file from the workspace and return its contents.",
			ToolParameters:  pathSchema,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := ws.resolve(strArg(args, "path"))
				if err != nil {
					return "", err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				return string(data), nil
			},
		},
		&FuncTool{
			ToolName:        "list_directory",
			ToolDescription: "List the entries of a workspace directory.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Directory relative to the workspace, defaults to the root"}}}`),
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := ws.resolve(strArg(args, "path"))
				if err != nil {
					return "", err
				}
				entries, err := os.ReadDir(path)
				if err != nil {
					return "", err
				}
				var b strings.Builder
				for _, entry := range entries {
					if entry.IsDir() {
						fmt.Fprintf(&b, "%s/\n", entry.Name())
					} else {
						fmt.Fprintf(&b, "%s\n", entry.Name())
					}
				}
				return b.String(), nil
			},
		},
		&FuncTool{
			ToolName:        "search",
			ToolDescription: "Search workspace files for a literal text fragment; returns file:line matches.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				query := strArg(args, "query")
				if query == "" {
					return "", errors.New("query must not be empty")
				}
				return searchWorkspace(ctx, ws.root, query)
			},
		},
		&FuncTool{
			ToolName:        "status",
			ToolDescription: "Report the workspace root and the number of files in it.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				count := 0
				err := filepath.WalkDir(ws.root, func(path string, d os.DirEntry, err error) error {
					if err != nil {
						return err
					}
					if !d.IsDir() {
						count++
					}
					return nil
				})
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("workspace %s: %d files", ws.root, count), nil
			},
		},
		&FuncTool{
			ToolName:        "create_file",
			ToolDescription: "Create or overwrite a workspace file with the given content.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"content":{"type":"string"}},"required":["path","content"]}`),
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := ws.resolve(strArg(args, "path"))
				if err != nil {
					return "", err
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return "", err
				}
				content := strArg(args, "content")
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return "", err
				}
				return fmt.Sprintf("wrote %d bytes to %s", len(content), strArg(args, "path")), nil
			},
		},
		&FuncTool{
			ToolName:        "edit_file",
			ToolDescription: "Replace the first occurrence of old_text with new_text in a workspace file.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"},"old_text":{"type":"string"},"new_text":{"type":"string"}},"required":["path","old_text","new_text"]}`),
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := ws.resolve(strArg(args, "path"))
				if err != nil {
					return "", err
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				oldText := strArg(args, "old_text")
				if !strings.Contains(string(data), oldText) {
					return "", fmt.Errorf("old_text not found in %s", strArg(args, "path"))
				}
				updated := strings.Replace(string(data), oldText, strArg(args, "new_text"), 1)
				if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
					return "", err
				}
				return fmt.Sprintf("edited %s", strArg(args, "path")), nil
			},
		},
		&FuncTool{
			ToolName:        "delete_file",
			ToolDescription: "Delete a workspace file. Irreversible.",
			ToolParameters:  pathSchema,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				path, err := ws.resolve(strArg(args, "path"))
				if err != nil {
					return "", err
				}
				if err := os.Remove(path); err != nil {
					return "", err
				}
				return fmt.Sprintf("deleted %s", strArg(args, "path")), nil
			},
		},
		&FuncTool{
			ToolName:        "run_command",
			ToolDescription: "Run a command in the workspace root and return its combined output.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
			ToolTimeout:     60 * time.Second,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				fields := strings.Fields(strArg(args, "command"))
				if len(fields) == 0 {
					return "", errors.New("command must not be empty")
				}
				cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
				cmd.Dir = ws.root
				out, err := cmd.CombinedOutput()
				if err != nil {
					return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
				}
				return string(out), nil
			},
		},
		&FuncTool{
			ToolName:        "http_request",
			ToolDescription: "Perform an HTTP GET or POST and return the response body. Irreversible.",
			ToolParameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string"},"method":{"type":"string","enum":["GET","POST"]},"body":{"type":"string"}},"required":["url"]}`),
			ToolTimeout:     30 * time.Second,
			Fn:              httpRequest,
		},
	}
}

func strArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}

// searchWorkspace scans regular files line by line for a literal match.
// Bounded output: at most 100 matching lines.
func searchWorkspace(ctx context.Context, root, query string) (string, error) {
	const maxMatches = 100
	var matches []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || len(matches) >= maxMatches {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable files are skipped, not fatal
		}
		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, query) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

func httpRequest(ctx context.Context, args map[string]any) (string, error) {
	url := strArg(args, "url")
	if url == "" {
		return "", errors.New("url must not be empty")
	}
	method := strings.ToUpper(strArg(args, "method"))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodPost {
		return "", fmt.Errorf("unsupported method %q", method)
	}

	var body io.Reader
	if b := strArg(args, "body"); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("HTTP %d\n%s", resp.StatusCode, string(data)), nil
}
