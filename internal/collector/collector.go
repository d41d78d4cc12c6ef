package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Wrapped tools must print their JSON document as the final non-empty line
// of stdout. Anything above it is treated as log noise and ignored; there is
// no scanning for JSON embedded mid-stream.

// ToolError is a failed external-tool invocation: non-zero exit, timeout, or
// output that breaks the contract. It is fatal only for the extraction stage.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// runTool executes the tool with a timeout and returns the final non-empty
// stdout line, which the tool contract requires to be the JSON document.
func runTool(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &ToolError{Tool: name, Err: fmt.Errorf("timed out after %s", timeout)}
	}
	if err != nil {
		return nil, &ToolError{Tool: name, Err: err, Stderr: tail(stderr.String(), 512)}
	}

	line := finalLine(stdout.String())
	if line == "" {
		return nil, &ToolError{Tool: name, Err: errors.New("no output on stdout")}
	}
	return []byte(line), nil
}

func finalLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
