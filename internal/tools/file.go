package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/llamia/internal/state"
)

// Workspace is the directory patches may touch. Nothing outside it is ever
// written.
type Workspace struct {
	Dir string
}

// NewWorkspace creates the workspace directory if needed.
func NewWorkspace(dir string) (*Workspace, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// SafePath resolves a model-provided relative path inside the workspace.
// Absolute paths and traversal are rejected; a leading "workspace/" prefix is
// tolerated because models include it about half the time.
func (w *Workspace) SafePath(relPath string) (string, error) {
	rel := strings.TrimSpace(relPath)
	if rel == "" {
		return "", fmt.Errorf("empty file path")
	}
	rel = strings.TrimPrefix(rel, "workspace/")
	for strings.HasPrefix(rel, "./") {
		rel = rel[2:]
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", relPath)
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if part == ".." {
			return "", fmt.Errorf("directory traversal is not allowed: %q", relPath)
		}
	}

	ws, err := filepath.Abs(w.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	target := filepath.Clean(filepath.Join(ws, rel))
	if target != ws && !strings.HasPrefix(target, ws+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe workspace path: %q", relPath)
	}
	return target, nil
}

// ApplyPatch writes a single patch and returns the absolute path written.
// ApplyMode append appends when the file exists; everything else overwrites.
func (w *Workspace) ApplyPatch(patch state.CodePatch) (string, error) {
	target, err := w.SafePath(patch.FilePath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs for %s: %w", patch.FilePath, err)
	}

	if patch.ApplyMode == state.ApplyAppend {
		if _, statErr := os.Stat(target); statErr == nil {
			f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return "", fmt.Errorf("open %s for append: %w", patch.FilePath, err)
			}
			defer f.Close()
			if _, err := f.WriteString(patch.Content); err != nil {
				return "", fmt.Errorf("append to %s: %w", patch.FilePath, err)
			}
			return target, nil
		}
	}

	if err := os.WriteFile(target, []byte(patch.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", patch.FilePath, err)
	}
	return target, nil
}

// ApplyPatches applies all patches in order and returns the written paths.
// Stops at the first failure; earlier writes stay on disk.
func (w *Workspace) ApplyPatches(patches []state.CodePatch) ([]string, error) {
	var written []string
	for _, p := range patches {
		target, err := w.ApplyPatch(p)
		if err != nil {
			return written, err
		}
		written = append(written, target)
	}
	return written, nil
}

// ListFiles walks the workspace and returns relative paths of regular files.
// Used by local research to score candidate files against a query.
func (w *Workspace) ListFiles() ([]string, error) {
	ws, err := filepath.Abs(w.Dir)
	if err != nil {
		return nil, err
	}
	var files []string
	err = filepath.Walk(ws, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(ws, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	return files, nil
}

// ReadFile reads a workspace file through the same path guard as writes.
func (w *Workspace) ReadFile(relPath string) (string, error) {
	target, err := w.SafePath(relPath)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(target)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
