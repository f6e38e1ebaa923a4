package webcheck

import (
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum-optimism/infra/op-webcheck/reporting"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// writeOutputs writes every file-backed report format and run artifact under
// dir, and streams the list format to console. It returns the written paths.
func writeOutputs(dir string, outputs map[types.FormatKind][]byte, artifacts map[string][]byte, console io.Writer) ([]string, error) {
	if list, ok := outputs[types.FormatList]; ok && console != nil {
		if _, err := console.Write(list); err != nil {
			return nil, fmt.Errorf("write list report: %w", err)
		}
	}

	files := make(map[string][]byte, len(outputs)+len(artifacts))
	for kind, data := range outputs {
		if name := reporting.FileName(kind); name != "" {
			files[name] = data
		}
	}
	for name, data := range artifacts {
		files[name] = data
	}
	if len(files) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	names := slices.Sorted(maps.Keys(files))
	written := make([]string, 0, len(names))
	for _, name := range names {
		path, err := safeJoin(dir, name)
		if err != nil {
			return written, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, fmt.Errorf("create artifact dir: %w", err)
		}
		if err := os.WriteFile(path, files[name], 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
	}
	return written, nil
}

// safeJoin keeps artifact names inside dir.
func safeJoin(dir, name string) (string, error) {
	path := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact %q escapes the output directory", name)
	}
	return path, nil
}
