// Package builtin provides the tools every session starts with.
package builtin

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/harun/tandem/pkg/tools"
)

// Options configures the built-in tools.
type Options struct {
	// GroqAPIKey enables transcribe_audio.
	GroqAPIKey string
	// GroqBaseURL overrides the transcription endpoint.
	GroqBaseURL string
	// HTTPClient is used by web_fetch_md. Nil means a default client.
	HTTPClient *http.Client
}

// Descriptors returns every built-in tool.
func Descriptors(opts Options) []tools.Descriptor {
	return []tools.Descriptor{
		AskUser(),
		ListDir(),
		ReadFile(),
		WriteFile(),
		Shell(),
		WebFetchMarkdown(opts.HTTPClient),
		TranscribeAudio(opts.GroqAPIKey, opts.GroqBaseURL),
	}
}

// RegisterAll registers the built-in tools on reg.
func RegisterAll(reg *tools.Registry, opts Options) error {
	for _, d := range Descriptors(opts) {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("failed to register %s: %w", d.Name, err)
		}
	}
	return nil
}

// resolvePath makes path absolute against the invocation's working directory.
func resolvePath(workDir, path string) string {
	if path == "" {
		path = "."
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}
