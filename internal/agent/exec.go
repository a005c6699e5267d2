package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipyard/internal/failure"
)

const (
	// APIKeyEnv carries the agent credential into the child process.
	APIKeyEnv = "SHIPYARD_AGENT_API_KEY"

	// MCPURLEnv carries the streamable HTTP endpoint of the module's
	// verification tools into the child process.
	MCPURLEnv = "SHIPYARD_MCP_URL"
)

const (
	// maxStderr bounds how much child stderr lands in an error message.
	maxStderr = 2048

	// waitDelay caps how long output pipes stay open after the command is
	// killed, in case it left children behind.
	waitDelay = time.Second
)

// ExecInvoker runs one external command per invocation. The request is
// written to stdin as JSON. Stdout is decoded as a Response; output that is
// not a JSON object is taken verbatim as Response.Output.
type ExecInvoker struct {
	argv    []string
	dir     string
	apiKey  string
	mcpURL  string
	timeout time.Duration
	logger  *zap.Logger
}

// ExecOption configures an ExecInvoker.
type ExecOption func(*ExecInvoker)

// WithWorkDir sets the child's working directory.
func WithWorkDir(dir string) ExecOption {
	return func(e *ExecInvoker) { e.dir = dir }
}

// WithAPIKey passes key to the child through APIKeyEnv.
func WithAPIKey(key string) ExecOption {
	return func(e *ExecInvoker) { e.apiKey = key }
}

// WithMCPURL passes the verification tool endpoint to the child through
// MCPURLEnv.
func WithMCPURL(url string) ExecOption {
	return func(e *ExecInvoker) { e.mcpURL = url }
}

// WithTimeout bounds a single invocation. Zero means the caller's context
// is the only bound.
func WithTimeout(d time.Duration) ExecOption {
	return func(e *ExecInvoker) { e.timeout = d }
}

// WithExecLogger sets the logger.
func WithExecLogger(l *zap.Logger) ExecOption {
	return func(e *ExecInvoker) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecInvoker returns an invoker running argv[0] with argv[1:].
func NewExecInvoker(argv []string, opts ...ExecOption) (*ExecInvoker, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("agent command is required")
	}
	e := &ExecInvoker{
		argv:   append([]string(nil), argv...),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("agent").With(zap.String("command", e.argv[0]))
	return e, nil
}

// Invoke implements Invoker. A command that cannot be started is a critical
// failure; a non-zero exit is an ordinary one.
func (e *ExecInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Dir = e.dir
	cmd.Env = os.Environ()
	if e.apiKey != "" {
		cmd.Env = append(cmd.Env, APIKeyEnv+"="+e.apiKey)
	}
	if e.mcpURL != "" {
		cmd.Env = append(cmd.Env, MCPURLEnv+"="+e.mcpURL)
	}
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	e.logger.Debug("agent command finished",
		zap.String("model", req.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("stdout_bytes", stdout.Len()))

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("agent command interrupted: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("agent command exited with code %d: %s",
				exitErr.ExitCode(), tail(stderr.String()))
		}
		return nil, &failure.CriticalError{Message: fmt.Sprintf("start agent command: %v", runErr)}
	}

	return decodeResponse(stdout.Bytes()), nil
}

func decodeResponse(out []byte) *Response {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var resp Response
		if err := json.Unmarshal(trimmed, &resp); err == nil {
			return &resp
		}
	}
	return &Response{Output: string(out)}
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
