package builtin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/tandem/internal/config"
	"github.com/harun/tandem/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, opts Options) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterAll(reg, opts))
	return reg
}

func run(reg *tools.Registry, dir, name string, params map[string]interface{}) tools.Result {
	return reg.Execute(context.Background(), name, tools.Invocation{
		CallID:     "call-1",
		Params:     params,
		WorkingDir: dir,
		Approval:   config.ApprovalAuto,
	})
}

func TestRegisterAll(t *testing.T) {
	reg := newRegistry(t, Options{})
	assert.Equal(t, []string{
		"ask_user", "list_dir", "read_file", "shell", "transcribe_audio", "web_fetch_md", "write_file",
	}, reg.Names())

	for _, name := range []string{"write_file", "shell"} {
		d, ok := reg.Get(name)
		require.True(t, ok)
		assert.True(t, d.IsMutating(nil), name)
	}
	for _, name := range []string{"ask_user", "list_dir", "read_file", "web_fetch_md", "transcribe_audio"} {
		d, ok := reg.Get(name)
		require.True(t, ok)
		assert.False(t, d.IsMutating(nil), name)
	}
}

func TestAskUser(t *testing.T) {
	reg := newRegistry(t, Options{})

	t.Run("should fail without a responder", func(t *testing.T) {
		res := run(reg, t.TempDir(), "ask_user", map[string]interface{}{"question": "name?"})
		assert.False(t, res.Success)
		assert.Equal(t, "ask_user is not supported in this environment", res.Error)
	})

	t.Run("should return the answer", func(t *testing.T) {
		res := reg.Execute(context.Background(), "ask_user", tools.Invocation{
			Params: map[string]interface{}{"question": "name?"},
			AskUser: func(ctx context.Context, q string) (string, error) {
				return "answer to " + q, nil
			},
		})
		require.True(t, res.Success)
		assert.Equal(t, "answer to name?", res.Output)
	})

	t.Run("should report responder errors", func(t *testing.T) {
		res := reg.Execute(context.Background(), "ask_user", tools.Invocation{
			Params: map[string]interface{}{"question": "name?"},
			AskUser: func(ctx context.Context, q string) (string, error) {
				return "", errors.New("session closed")
			},
		})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "session closed")
	})
}

func TestListDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))

	reg := newRegistry(t, Options{})

	res := run(reg, dir, "list_dir", nil)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "a.txt\nb.txt\nsub/", res.Output)

	res = run(reg, dir, "list_dir", map[string]interface{}{"path": "sub"})
	require.True(t, res.Success)
	assert.Equal(t, "(empty directory)", res.Output)

	res = run(reg, dir, "list_dir", map[string]interface{}{"path": "missing"})
	assert.False(t, res.Success)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	var lines []string
	for i := 1; i <= 10; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte(strings.Join(lines, "\n")), 0644))

	reg := newRegistry(t, Options{})

	t.Run("should number every line", func(t *testing.T) {
		res := run(reg, dir, "read_file", map[string]interface{}{"path": "f.txt"})
		require.True(t, res.Success, res.Error)
		assert.True(t, strings.HasPrefix(res.Output, "     1\tline 1\n"))
		assert.Contains(t, res.Output, "    10\tline 10")
		assert.Equal(t, 10, res.Metadata["total_lines"])
	})

	t.Run("should page with offset and limit", func(t *testing.T) {
		res := run(reg, dir, "read_file", map[string]interface{}{"path": "f.txt", "offset": float64(3), "limit": float64(2)})
		require.True(t, res.Success)
		assert.Equal(t, "     3\tline 3\n     4\tline 4\n... (6 more lines)", res.Output)
	})

	t.Run("should fail past the end", func(t *testing.T) {
		res := run(reg, dir, "read_file", map[string]interface{}{"path": "f.txt", "offset": float64(50)})
		assert.False(t, res.Success)
	})

	t.Run("should fail on missing files and directories", func(t *testing.T) {
		assert.False(t, run(reg, dir, "read_file", map[string]interface{}{"path": "nope.txt"}).Success)
		assert.False(t, run(reg, dir, "read_file", map[string]interface{}{"path": "."}).Success)
	})
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t, Options{})

	res := run(reg, dir, "write_file", map[string]interface{}{"path": "nested/out.txt", "content": "one\ntwo\n"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, true, res.Metadata["created"])
	assert.Equal(t, 2, res.Metadata["additions"])
	assert.Equal(t, 0, res.Metadata["deletions"])
	assert.Contains(t, res.Diff, "--- nested/out.txt")

	data, err := os.ReadFile(filepath.Join(dir, "nested", "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))

	res = run(reg, dir, "write_file", map[string]interface{}{"path": "nested/out.txt", "content": "one\nthree\n"})
	require.True(t, res.Success)
	assert.Equal(t, false, res.Metadata["created"])
	assert.Equal(t, 1, res.Metadata["additions"])
	assert.Equal(t, 1, res.Metadata["deletions"])
	assert.Equal(t, "Updated nested/out.txt (+1 -1)", res.Output)

	res = run(reg, dir, "write_file", map[string]interface{}{"path": "nested/out.txt", "content": "one\nthree\n"})
	require.True(t, res.Success)
	assert.Empty(t, res.Diff)
}

func TestWriteFileNeedsApproval(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t, Options{})

	res := reg.Execute(context.Background(), "write_file", tools.Invocation{
		Params:     map[string]interface{}{"path": "x.txt", "content": "x"},
		WorkingDir: dir,
		Approval:   config.ApprovalOnRequest,
		Confirm: tools.ConfirmerFunc(func(ctx context.Context, req tools.ConfirmationRequest) (tools.ConfirmationResponse, error) {
			return tools.ConfirmationResponse{Approved: false, Reason: "no"}, nil
		}),
	})

	assert.False(t, res.Success)
	assert.Equal(t, "rejected by user: no", res.Error)
	_, err := os.Stat(filepath.Join(dir, "x.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestShell(t *testing.T) {
	dir := t.TempDir()
	reg := newRegistry(t, Options{})

	t.Run("should run in the working directory", func(t *testing.T) {
		res := run(reg, dir, "shell", map[string]interface{}{"command": "pwd"})
		require.True(t, res.Success, res.Error)
		resolved, _ := filepath.EvalSymlinks(dir)
		assert.Contains(t, []string{dir, resolved}, res.Output)
		require.NotNil(t, res.ExitCode)
		assert.Equal(t, 0, *res.ExitCode)
	})

	t.Run("should fail on a non-zero exit", func(t *testing.T) {
		res := run(reg, dir, "shell", map[string]interface{}{"command": "echo oops >&2; exit 3"})
		assert.False(t, res.Success)
		require.NotNil(t, res.ExitCode)
		assert.Equal(t, 3, *res.ExitCode)
		assert.Equal(t, "oops", res.Output)
		assert.Equal(t, "command exited with status 3", res.Error)
	})

	t.Run("should time out", func(t *testing.T) {
		res := run(reg, dir, "shell", map[string]interface{}{"command": "sleep 5", "timeout": float64(1)})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "timed out")
	})
}

func TestWebFetchMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, `<html><head><title>Docs</title><script>var x=1;</script></head>
<body><h1>Hello</h1><p>Some <strong>bold</strong> text.</p><ul><li>one</li></ul></body></html>`)
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "just text")
		case "/big":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, strings.Repeat("x", maxMarkdownBytes+10))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	reg := newRegistry(t, Options{HTTPClient: srv.Client()})

	t.Run("should convert html to markdown", func(t *testing.T) {
		res := run(reg, "", "web_fetch_md", map[string]interface{}{"url": srv.URL + "/page"})
		require.True(t, res.Success, res.Error)
		assert.Contains(t, res.Output, "# Docs")
		assert.Contains(t, res.Output, "# Hello")
		assert.Contains(t, res.Output, "**bold**")
		assert.Contains(t, res.Output, "- one")
		assert.NotContains(t, res.Output, "var x")
		assert.Equal(t, "Docs", res.Metadata["title"])
		assert.Equal(t, 200, res.Metadata["status_code"])
	})

	t.Run("should pass through non-html bodies", func(t *testing.T) {
		res := run(reg, "", "web_fetch_md", map[string]interface{}{"url": srv.URL + "/plain"})
		require.True(t, res.Success)
		assert.Equal(t, "just text", res.Output)
	})

	t.Run("should truncate very large content", func(t *testing.T) {
		res := run(reg, "", "web_fetch_md", map[string]interface{}{"url": srv.URL + "/big"})
		require.True(t, res.Success)
		assert.Equal(t, true, res.Metadata["content_truncated"])
		assert.True(t, res.Truncated)
	})

	t.Run("should report http errors", func(t *testing.T) {
		res := run(reg, "", "web_fetch_md", map[string]interface{}{"url": srv.URL + "/missing"})
		assert.False(t, res.Success)
		assert.Equal(t, "HTTP 404: Not Found", res.Error)
	})

	t.Run("should validate url and timeout", func(t *testing.T) {
		res := run(reg, "", "web_fetch_md", map[string]interface{}{"url": "ftp://example.com"})
		assert.False(t, res.Success)
		assert.Equal(t, "url must be http:// or https://", res.Error)

		res = run(reg, "", "web_fetch_md", map[string]interface{}{"url": srv.URL + "/page", "timeout": float64(1)})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "timeout must be between")
	})
}

func TestTranscribeAudio(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "voice.ogg"), []byte("OggS fake audio"), 0644))

	t.Run("should require an api key", func(t *testing.T) {
		reg := newRegistry(t, Options{})
		res := run(reg, dir, "transcribe_audio", map[string]interface{}{"file_path": "voice.ogg"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "GROQ_API_KEY")
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer gsk_test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, whisperModel, r.FormValue("model"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"text":"hello from the voice note"}`)
	}))
	defer srv.Close()

	reg := newRegistry(t, Options{GroqAPIKey: "gsk_test", GroqBaseURL: srv.URL})

	t.Run("should fail on a missing file", func(t *testing.T) {
		res := run(reg, dir, "transcribe_audio", map[string]interface{}{"file_path": "gone.ogg"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "audio file not found")
	})

	t.Run("should return the transcript", func(t *testing.T) {
		res := run(reg, dir, "transcribe_audio", map[string]interface{}{"file_path": "voice.ogg"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "hello from the voice note", res.Output)
	})
}
