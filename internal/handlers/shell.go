package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/BetterCallFirewall/llmitm/internal/models"
)

// ShellHandler executes shell_command steps. The command line is split with
// shellwords and run in list form; there is no shell, so untrusted output
// interpolated into the command cannot inject further commands.
//
// Parameters: command, cwd, env (map), timeout_seconds.
type ShellHandler struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewShellHandler builds the handler with the configured default timeout.
func NewShellHandler(timeout time.Duration, logger *zap.Logger) *ShellHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShellHandler{timeout: timeout, logger: logger}
}

func (h *ShellHandler) Type() models.StepType { return models.StepShellCommand }

// Execute runs the command. A non-zero exit always yields a non-empty
// stderr, synthesized from the exit status when the process wrote nothing.
func (h *ShellHandler) Execute(ctx context.Context, step models.Step, ectx *models.ExecutionContext) (*models.StepResult, error) {
	start := time.Now()
	result := &models.StepResult{StepOrder: step.Order, StepType: step.Type}

	command := stringParam(step.Parameters, "command")
	if command == "" {
		result.Stderr = fmt.Sprintf("shell step %d has no command", step.Order)
		result.ExitCode = 1
		return result, nil
	}

	args, err := shellwords.Parse(command)
	if err != nil || len(args) == 0 {
		result.Stderr = fmt.Sprintf("cannot split command %q: %v", command, err)
		result.ExitCode = 1
		return result, nil
	}

	timeout := h.timeout
	if secs := intParam(step.Parameters, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, args[0], args[1:]...)
	cmd.Dir = stringParam(step.Parameters, "cwd")
	if env, ok := step.Parameters["env"].(map[string]any); ok {
		for k, v := range env {
			if s, ok := v.(string); ok {
				cmd.Env = append(cmd.Env, k+"="+s)
			}
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result.DurationMS = time.Since(start).Milliseconds()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	switch {
	case cmdCtx.Err() == context.DeadlineExceeded:
		result.ExitCode = -1
		result.Stderr = fmt.Sprintf("command timeout after %s: %s", timeout, excerpt(result.Stderr, 200))
	case runErr != nil:
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
		}
		if result.Stderr == "" {
			result.Stderr = fmt.Sprintf("command failed: %v", runErr)
		}
	default:
		result.ExitCode = 0
	}

	result.SuccessCriteriaMatched = result.Stderr == ""
	h.logger.Debug("shell step finished",
		zap.Int("step", step.Order), zap.Int("exit_code", result.ExitCode))
	return result, nil
}
