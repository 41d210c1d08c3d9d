package builtin

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/harun/tandem/pkg/tools"
)

const (
	defaultShellTimeout = 120
	maxShellTimeout     = 600
)

// Shell runs a command through sh -c in the working directory.
func Shell() tools.Descriptor {
	return tools.Descriptor{
		Name:        "shell",
		Description: "Run a shell command with sh -c in the working directory. stdout and stderr are combined. A non-zero exit status fails the call.",
		Kind:        tools.KindShell,
		Mutating:    tools.Always,
		Parameters: []tools.Parameter{
			{Name: "command", Type: "string", Description: "The command line to run.", Required: true},
			{Name: "timeout", Type: "integer", Description: "Timeout in seconds (default 120, max 600)."},
		},
		Timeout: (maxShellTimeout + 10) * time.Second,
		Handler: runShell,
	}
}

func runShell(ctx context.Context, inv tools.Invocation) tools.Result {
	command := strings.TrimSpace(inv.String("command", ""))
	if command == "" {
		return tools.Failure("command cannot be empty")
	}

	secs := inv.Int("timeout", defaultShellTimeout)
	if secs <= 0 {
		secs = defaultShellTimeout
	}
	if secs > maxShellTimeout {
		secs = maxShellTimeout
	}
	timeout := time.Duration(secs) * time.Second

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = inv.WorkingDir
	cmd.WaitDelay = 200 * time.Millisecond

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimRight(out.String(), "\n")

	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		res := tools.Failure("command timed out after %v", timeout)
		res.Output = output
		return res.WithMetadata("command", command)
	}

	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return tools.Failure("failed to run command: %v", err)
		}
		code = exitErr.ExitCode()
	}

	var res tools.Result
	if code == 0 {
		res = tools.Success(output)
	} else {
		res = tools.Failure("command exited with status %d", code)
		res.Output = output
	}
	res.ExitCode = &code
	return res.WithMetadata("command", command)
}
