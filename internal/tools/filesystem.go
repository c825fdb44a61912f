package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes caps how much of a file is handed back into a prompt.
const maxReadBytes = 64 * 1024

var errUnsafePath = errors.New("unsafe path")

// FilesystemTool reads and writes files inside the workspace. Outputs of
// other steps (speech, screenshots, downloads) land in the same tree, so
// later steps can pick them up by relative path.
type FilesystemTool struct {
	Root string
}

func NewFilesystemTool(root string) *FilesystemTool {
	absRoot, _ := filepath.Abs(root)
	return &FilesystemTool{Root: absRoot}
}

func (f *FilesystemTool) Name() string {
	return "filesystem"
}

func (f *FilesystemTool) Description() string {
	return "Work with files in the assistant workspace: read, write, append, list, find, delete, mkdir."
}

func (f *FilesystemTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"enum":        []string{"read", "write", "append", "list", "find", "delete", "mkdir"},
				"description": "The operation to perform",
			},
			"filename": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace, or a glob pattern for 'find'",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Text for 'write' and 'append'",
			},
		},
		"required": []string{"command"},
	}
}

type fsArgs struct {
	Command  string `json:"command"`
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// ArgsFromText understands "<command> <path>", e.g. "list audio" or
// "read notes/todo.md". Anything else lists the workspace root.
func (f *FilesystemTool) ArgsFromText(text string) (string, error) {
	fields := strings.Fields(text)
	args := fsArgs{Command: "list", Filename: "."}
	if len(fields) > 0 {
		switch cmd := strings.ToLower(fields[0]); cmd {
		case "read", "list", "find", "delete", "mkdir":
			args.Command = cmd
			if len(fields) > 1 {
				args.Filename = fields[1]
			}
		}
	}
	data, err := json.Marshal(args)
	return string(data), err
}

func (f *FilesystemTool) Execute(ctx context.Context, input string) (string, error) {
	var args fsArgs
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if args.Filename == "" {
		args.Filename = "."
	}

	if args.Command == "find" {
		return f.find(args.Filename)
	}

	target, err := f.resolve(args.Filename)
	if err != nil {
		return "", err
	}

	switch args.Command {
	case "read":
		return readCapped(target)
	case "write", "append":
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if args.Command == "append" {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return "", err
		}
		file, err := os.OpenFile(target, flags, 0644)
		if err != nil {
			return "", fmt.Errorf("failed to open file: %w", err)
		}
		defer file.Close()
		if _, err := file.WriteString(args.Content); err != nil {
			return "", fmt.Errorf("failed to write file: %w", err)
		}
		return fmt.Sprintf("Wrote %d bytes to %s", len(args.Content), args.Filename), nil
	case "list":
		return listDir(target)
	case "delete":
		if target == f.Root {
			return "", fmt.Errorf("%w: refusing to delete the workspace root", errUnsafePath)
		}
		if err := os.Remove(target); err != nil {
			return "", fmt.Errorf("failed to delete: %w", err)
		}
		return fmt.Sprintf("Deleted %s", args.Filename), nil
	case "mkdir":
		if err := os.MkdirAll(target, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		return fmt.Sprintf("Created directory %s", args.Filename), nil
	default:
		return "", fmt.Errorf("unknown command %q", args.Command)
	}
}

// resolve maps a workspace-relative name to an absolute path inside Root.
func (f *FilesystemTool) resolve(name string) (string, error) {
	target := filepath.Join(f.Root, name)
	rel, err := filepath.Rel(f.Root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w attempt: %s", errUnsafePath, name)
	}
	return target, nil
}

func (f *FilesystemTool) find(pattern string) (string, error) {
	var b strings.Builder
	err := filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(f.Root, path)
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			fmt.Fprintln(&b, rel)
		} else if ok, _ := filepath.Match(pattern, rel); ok {
			fmt.Fprintln(&b, rel)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if b.Len() == 0 {
		return fmt.Sprintf("No files match %s", pattern), nil
	}
	return b.String(), nil
}

func readCapped(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n[truncated]", nil
	}
	return string(data), nil
}

func listDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}
	if len(entries) == 0 {
		return "Directory is empty", nil
	}
	var b strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&b, "[dir] %s\n", entry.Name())
			continue
		}
		size := int64(0)
		if info, err := entry.Info(); err == nil {
			size = info.Size()
		}
		fmt.Fprintf(&b, "[file] %s (%d bytes)\n", entry.Name(), size)
	}
	return b.String(), nil
}
