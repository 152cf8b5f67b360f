package sandbox

import (
	"context"
	"os"

	"github.com/wisbric/agentcore/pkg/errs"
)

// TmpExecutor reserves scratch space under the profile's mapped tmp_dir.
type TmpExecutor struct{}

func (TmpExecutor) Kind() CapabilityKind { return CapTmpUse }

func (e TmpExecutor) Execute(ctx context.Context, ectx ExecCtx, op ExecOp) (ExecResult, error) {
	if ectx.Cancel != nil && ectx.Cancel.IsCancelled() {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("execution cancelled")
	}
	if op.Kind != OpTmpAlloc {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("operation not supported by TmpExecutor")
	}

	if ectx.Profile.Limits.MaxBytesOut != nil && op.SizeBytes > *ectx.Profile.Limits.MaxBytesOut {
		return ExecFailure(string(errs.PolicyDenyTool), "tmp allocation exceeds limit"), nil
	}
	var tmpDir string
	if ectx.Profile.Mappings.TmpDir != nil {
		tmpDir = *ectx.Profile.Mappings.TmpDir
		if err := os.MkdirAll(tmpDir, 0o755); err != nil {
			return ExecFailure(string(errs.PolicyDenyTool), "failed to create tmp dir"), nil
		}
	}

	usage := ExecUsage{BytesOut: op.SizeBytes, Calls: 1}
	sideEffects := []SideEffectRecord{{Kind: SideEffectFilesystem, Meta: map[string]any{"tmp_dir": tmpDir, "bytes": op.SizeBytes}}}
	return ExecSuccess(map[string]any{"allocated": op.SizeBytes}, usage, sideEffects), nil
}
