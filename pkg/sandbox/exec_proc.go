package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"os/exec"
	"strings"
	"time"

	"github.com/wisbric/agentcore/pkg/errs"
)

// ProcessExecutor runs a whitelisted external tool with a clean
// environment and no shell, matching the process-jail posture of the
// original implementation.
type ProcessExecutor struct{}

func (ProcessExecutor) Kind() CapabilityKind { return CapProcExec }

func (e ProcessExecutor) Execute(ctx context.Context, ectx ExecCtx, op ExecOp) (ExecResult, error) {
	if ectx.Cancel != nil && ectx.Cancel.IsCancelled() {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("execution cancelled")
	}
	if op.Kind != OpProcExec {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("operation not supported by ProcessExecutor")
	}

	if res, ok := ensureToolAllowed(ectx, op.Tool); !ok {
		return res, nil
	}
	if res, ok := ensureArgsSafe(op.Args); !ok {
		return res, nil
	}

	timeoutMs := ectx.Profile.TimeoutMs
	if op.TimeoutMs != nil {
		timeoutMs = *op.TimeoutMs
	}
	if timeoutMs == 0 {
		timeoutMs = 30_000
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(runCtx, op.Tool, op.Args...)
	cmd.Env = []string{}
	if ectx.Profile.Mappings.TmpDir != nil {
		cmd.Dir = *ectx.Profile.Mappings.TmpDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if runCtx.Err() != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "process timeout exceeded"), nil
	}

	stdoutLen := uint64(stdout.Len())
	stderrLen := uint64(stderr.Len())
	if ectx.Profile.Limits.MaxBytesIn != nil && stdoutLen+stderrLen > *ectx.Profile.Limits.MaxBytesIn {
		return ExecFailure(string(errs.PolicyDenyTool), "process output exceeds byte limit"), nil
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return ExecFailure(string(errs.PolicyDenyTool), "failed to spawn process"), nil
		}
	}

	usage := ExecUsage{Calls: 1, BytesIn: stdoutLen + stderrLen}
	sideEffects := []SideEffectRecord{{
		Kind: SideEffectProcess,
		Meta: map[string]any{
			"tool": op.Tool, "args": op.Args, "status": exitCode,
			"stdout_bytes": stdoutLen, "stderr_bytes": stderrLen,
		},
	}}
	out := map[string]any{
		"status":     exitCode,
		"stdout_b64": base64.StdEncoding.EncodeToString(stdout.Bytes()),
		"stderr_b64": base64.StdEncoding.EncodeToString(stderr.Bytes()),
	}
	return ExecSuccess(out, usage, sideEffects), nil
}

func ensureToolAllowed(ectx ExecCtx, tool string) (ExecResult, bool) {
	if len(ectx.Profile.Whitelists.Tools) == 0 {
		return ExecFailure(string(errs.PolicyDenyTool), "process execution disabled by policy"), false
	}
	for _, allowed := range ectx.Profile.Whitelists.Tools {
		if allowed == tool {
			return ExecResult{}, true
		}
	}
	return ExecFailure(string(errs.PolicyDenyTool), "tool not allowed"), false
}

func ensureArgsSafe(args []string) (ExecResult, bool) {
	for _, arg := range args {
		if strings.ContainsAny(arg, ";|&`") {
			return ExecFailure(string(errs.PolicyDenyTool), "argument contains unsafe characters"), false
		}
	}
	return ExecResult{}, true
}
