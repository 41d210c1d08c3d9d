package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/harun/tandem/pkg/agent"
)

const (
	previewLines = 12
	previewChars = 1500
)

// Renderer prints agent events and command output to a terminal sink.
type Renderer struct {
	mu        sync.Mutex
	w         io.Writer
	streaming bool

	accent  *color.Color
	dim     *color.Color
	success *color.Color
	failure *color.Color
	warn    *color.Color
	added   *color.Color
	removed *color.Color
}

// NewRenderer writes to w.
func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		w:       w,
		accent:  color.New(color.FgCyan, color.Bold),
		dim:     color.New(color.Faint),
		success: color.New(color.FgGreen),
		failure: color.New(color.FgRed),
		warn:    color.New(color.FgYellow),
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
	}
}

// SetWriter redirects output, for example to a readline instance.
func (r *Renderer) SetWriter(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w = w
}

// Render prints one agent event.
func (r *Renderer) Render(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case agent.EventTextDelta:
		if !r.streaming {
			r.accent.Fprint(r.w, "\nassistant: ")
			r.streaming = true
		}
		fmt.Fprint(r.w, ev.Content)
	case agent.EventTextComplete:
		if r.streaming {
			fmt.Fprintln(r.w)
			r.streaming = false
		} else if ev.Content != "" {
			r.accent.Fprint(r.w, "\nassistant: ")
			fmt.Fprintln(r.w, ev.Content)
		}
	case agent.EventToolCallStart:
		r.endStream()
		r.toolStart(ev)
	case agent.EventToolCallComplete:
		r.endStream()
		r.toolComplete(ev)
	case agent.EventAgentError:
		r.endStream()
		r.failure.Fprintf(r.w, "\nError: %s\n", ev.Error)
	}
}

func (r *Renderer) endStream() {
	if r.streaming {
		fmt.Fprintln(r.w)
		r.streaming = false
	}
}

func (r *Renderer) toolStart(ev agent.Event) {
	r.warn.Fprintf(r.w, "\n⏺ %s", ev.Name)
	if ev.Kind != "" {
		r.dim.Fprintf(r.w, " [%s]", ev.Kind)
	}
	fmt.Fprintln(r.w)
	if args := formatArguments(ev.Arguments); args != "" {
		r.dim.Fprintln(r.w, indent(args, "  "))
	}
}

func (r *Renderer) toolComplete(ev agent.Event) {
	if ev.Success {
		r.success.Fprintf(r.w, "✓ %s", ev.Name)
	} else {
		r.failure.Fprintf(r.w, "✗ %s", ev.Name)
	}
	if ev.ExitCode != nil {
		r.dim.Fprintf(r.w, " (exit %d)", *ev.ExitCode)
	}
	fmt.Fprintln(r.w)

	if ev.Error != "" {
		r.failure.Fprintln(r.w, indent(ev.Error, "  "))
	}
	if ev.Diff != "" {
		r.diff(ev.Diff)
	} else if ev.Output != "" {
		fmt.Fprintln(r.w, indent(preview(ev.Output), "  "))
	}
	if ev.Truncated {
		r.dim.Fprintln(r.w, "  [output truncated]")
	}
}

func (r *Renderer) diff(d string) {
	for _, line := range strings.Split(strings.TrimRight(d, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			r.dim.Fprintln(r.w, "  "+line)
		case strings.HasPrefix(line, "+"):
			r.added.Fprintln(r.w, "  "+line)
		case strings.HasPrefix(line, "-"):
			r.removed.Fprintln(r.w, "  "+line)
		default:
			fmt.Fprintln(r.w, "  "+line)
		}
	}
}

// Question prints a question from the agent.
func (r *Renderer) Question(q string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endStream()
	if strings.HasSuffix(q, "[y/N]") {
		r.warn.Fprintf(r.w, "\n⚠ %s\n", q)
		return
	}
	r.accent.Fprint(r.w, "\nAgent asks: ")
	fmt.Fprintln(r.w, q)
}

// Info prints a plain line.
func (r *Renderer) Info(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format+"\n", args...)
}

// Success prints a green line.
func (r *Renderer) Success(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.success.Fprintf(r.w, format+"\n", args...)
}

// Error prints a red line.
func (r *Renderer) Error(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure.Fprintf(r.w, format+"\n", args...)
}

// Heading prints a bold section title.
func (r *Renderer) Heading(title string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accent.Fprintf(r.w, "\n%s\n", title)
}

// Dim prints a faint line.
func (r *Renderer) Dim(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dim.Fprintf(r.w, format+"\n", args...)
}

func formatArguments(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		var v string
		switch val := args[k].(type) {
		case string:
			v = val
		default:
			data, err := json.Marshal(val)
			if err != nil {
				v = fmt.Sprint(val)
			} else {
				v = string(data)
			}
		}
		if strings.Contains(v, "\n") {
			v = strings.SplitN(v, "\n", 2)[0] + " …"
		}
		if len(v) > 120 {
			v = v[:120] + "…"
		}
		lines = append(lines, k+": "+v)
	}
	return strings.Join(lines, "\n")
}

func preview(s string) string {
	s = strings.TrimRight(s, "\n")
	cut := false
	if len(s) > previewChars {
		s = s[:previewChars]
		cut = true
	}
	lines := strings.Split(s, "\n")
	if len(lines) > previewLines {
		lines = lines[:previewLines]
		cut = true
	}
	out := strings.Join(lines, "\n")
	if cut {
		out += "\n…"
	}
	return out
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
