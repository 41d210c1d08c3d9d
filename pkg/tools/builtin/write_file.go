package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/tandem/pkg/tools"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// WriteFile creates or overwrites a file and reports the diff.
func WriteFile() tools.Descriptor {
	return tools.Descriptor{
		Name:        "write_file",
		Description: "Write content to a file, creating parent directories as needed. Overwrites existing files.",
		Kind:        tools.KindWrite,
		Mutating:    tools.Always,
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "File to write, relative to the working directory.", Required: true},
			{Name: "content", Type: "string", Description: "Full file content.", Required: true},
		},
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			path := resolvePath(inv.WorkingDir, inv.String("path", ""))
			content := inv.String("content", "")

			before := ""
			existed := true
			data, err := os.ReadFile(path)
			switch {
			case err == nil:
				before = string(data)
			case errors.Is(err, os.ErrNotExist):
				existed = false
			default:
				return tools.Failure("failed to read %s: %v", path, err)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				return tools.Failure("failed to create directory: %v", err)
			}
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return tools.Failure("failed to write %s: %v", path, err)
			}

			diff, additions, deletions := buildDiff(path, before, content, inv.WorkingDir)

			verb := "Updated"
			if !existed {
				verb = "Created"
			}
			res := tools.Success(fmt.Sprintf("%s %s (+%d -%d)", verb, relativePath(path, inv.WorkingDir), additions, deletions)).
				WithMetadata("path", path).
				WithMetadata("created", !existed).
				WithMetadata("additions", additions).
				WithMetadata("deletions", deletions).
				WithMetadata("bytes", len(content))
			res.Diff = diff
			return res
		},
	}
}

// buildDiff returns a unified-style diff of before and after with line counts.
func buildDiff(path, before, after, baseDir string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	patch := dmp.PatchToText(dmp.PatchMake(before, diffs))
	if patch == "" {
		return "", additions, deletions
	}

	rel := relativePath(path, baseDir)
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", rel, rel)
	sb.WriteString(patch)
	return sb.String(), additions, deletions
}

func relativePath(path, baseDir string) string {
	if baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
