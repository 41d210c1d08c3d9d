package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/harun/tandem/pkg/tools"
)

// MaxReadLines caps a single read_file call.
const MaxReadLines = 2000

// ListDir lists one directory level.
func ListDir() tools.Descriptor {
	return tools.Descriptor{
		Name:        "list_dir",
		Description: "List the entries of a directory, one per line. Directories end with '/'.",
		Kind:        tools.KindRead,
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "Directory to list, relative to the working directory.", Default: "."},
		},
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			dir := resolvePath(inv.WorkingDir, inv.String("path", "."))

			entries, err := os.ReadDir(dir)
			if err != nil {
				return tools.Failure("failed to list %s: %v", dir, err)
			}

			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)

			out := strings.Join(names, "\n")
			if len(names) == 0 {
				out = "(empty directory)"
			}
			return tools.Success(out).
				WithMetadata("path", dir).
				WithMetadata("entries", len(names))
		},
	}
}

// ReadFile reads a text file with line numbers.
func ReadFile() tools.Descriptor {
	return tools.Descriptor{
		Name:        "read_file",
		Description: fmt.Sprintf("Read a text file. Lines are numbered from 1. At most %d lines are returned per call; use offset and limit to page.", MaxReadLines),
		Kind:        tools.KindRead,
		Parameters: []tools.Parameter{
			{Name: "path", Type: "string", Description: "File to read, relative to the working directory.", Required: true},
			{Name: "offset", Type: "integer", Description: "First line to return, 1-based."},
			{Name: "limit", Type: "integer", Description: "Maximum number of lines to return."},
		},
		Handler: func(ctx context.Context, inv tools.Invocation) tools.Result {
			path := resolvePath(inv.WorkingDir, inv.String("path", ""))
			offset := inv.Int("offset", 1)
			if offset < 1 {
				offset = 1
			}
			limit := inv.Int("limit", MaxReadLines)
			if limit <= 0 || limit > MaxReadLines {
				limit = MaxReadLines
			}

			info, err := os.Stat(path)
			if err != nil {
				return tools.Failure("failed to read %s: %v", path, err)
			}
			if info.IsDir() {
				return tools.Failure("%s is a directory", path)
			}

			f, err := os.Open(path)
			if err != nil {
				return tools.Failure("failed to read %s: %v", path, err)
			}
			defer f.Close()

			var b strings.Builder
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
			lineNo, shown := 0, 0
			for scanner.Scan() {
				lineNo++
				if lineNo < offset {
					continue
				}
				if shown == limit {
					// keep counting for total_lines
					continue
				}
				fmt.Fprintf(&b, "%6d\t%s\n", lineNo, scanner.Text())
				shown++
			}
			if err := scanner.Err(); err != nil {
				return tools.Failure("failed to read %s: %v", path, err)
			}

			if lineNo == 0 {
				return tools.Success("(empty file)").WithMetadata("total_lines", 0)
			}
			if shown == 0 {
				return tools.Failure("offset %d is past the end of the file (%d lines)", offset, lineNo)
			}
			if offset+shown-1 < lineNo {
				fmt.Fprintf(&b, "... (%d more lines)", lineNo-(offset+shown-1))
			}
			return tools.Success(strings.TrimSuffix(b.String(), "\n")).
				WithMetadata("path", path).
				WithMetadata("total_lines", lineNo).
				WithMetadata("lines_shown", shown)
		},
	}
}
