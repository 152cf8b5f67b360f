package sandbox

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"

	"github.com/wisbric/agentcore/pkg/errs"
)

// FsExecutor runs FsRead/FsWrite/FsList against the host filesystem, scoped
// by the profile's byte and file-count limits.
type FsExecutor struct{}

func (FsExecutor) Kind() CapabilityKind { return CapFsRead }

func (e FsExecutor) Execute(ctx context.Context, ectx ExecCtx, op ExecOp) (ExecResult, error) {
	if ectx.Cancel != nil && ectx.Cancel.IsCancelled() {
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("execution cancelled")
	}
	switch op.Kind {
	case OpFsRead:
		return readFile(ectx, op)
	case OpFsWrite:
		return writeFile(ectx, op)
	case OpFsList:
		return listDir(ectx, op)
	default:
		return ExecResult{}, errs.New(errs.PolicyDenyTool).WithDevMessage("operation not supported by FsExecutor")
	}
}

func readFile(ectx ExecCtx, op ExecOp) (ExecResult, error) {
	f, err := os.Open(op.Path)
	if err != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "failed to open file for read"), nil
	}
	defer f.Close()

	if op.Offset != nil {
		if _, err := f.Seek(int64(*op.Offset), io.SeekStart); err != nil {
			return ExecFailure(string(errs.PolicyDenyTool), "failed to seek file"), nil
		}
	}

	allowed := uint64(1<<63 - 1)
	if ectx.Profile.Limits.MaxBytesIn != nil {
		allowed = *ectx.Profile.Limits.MaxBytesIn
	}
	toRead := allowed
	if op.Len != nil && *op.Len < allowed {
		toRead = *op.Len
	}

	var buf []byte
	if toRead < allowed {
		buf, err = io.ReadAll(io.LimitReader(f, int64(toRead)))
	} else {
		buf, err = io.ReadAll(f)
	}
	if err != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "failed to read file"), nil
	}

	usage := ExecUsage{BytesIn: uint64(len(buf)), Calls: 1}
	if ectx.Profile.Limits.MaxBytesIn != nil && usage.BytesIn > *ectx.Profile.Limits.MaxBytesIn {
		return ExecFailure(string(errs.PolicyDenyTool), "read exceeds byte limit"), nil
	}

	sideEffects := []SideEffectRecord{{Kind: SideEffectRead, Meta: map[string]any{"path": op.Path, "bytes": usage.BytesIn}}}
	return ExecSuccess(map[string]any{"data_b64": base64.StdEncoding.EncodeToString(buf)}, usage, sideEffects), nil
}

func writeFile(ectx ExecCtx, op ExecOp) (ExecResult, error) {
	bytes, err := base64.StdEncoding.DecodeString(op.BytesB64)
	if err != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "invalid base64 payload"), nil
	}
	if ectx.Profile.Limits.MaxBytesOut != nil && uint64(len(bytes)) > *ectx.Profile.Limits.MaxBytesOut {
		return ExecFailure(string(errs.PolicyDenyTool), "write exceeds byte limit"), nil
	}
	if ectx.Profile.Limits.MaxFiles != nil && *ectx.Profile.Limits.MaxFiles == 0 {
		return ExecFailure(string(errs.PolicyDenyTool), "file writes disabled by policy"), nil
	}
	if _, err := os.Stat(op.Path); err == nil && !op.Overwrite {
		return ExecFailure(string(errs.PolicyDenyTool), "file exists and overwrite disabled"), nil
	}
	if dir := filepath.Dir(op.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return ExecFailure(string(errs.PolicyDenyTool), "failed to create directories"), nil
		}
	}
	if err := os.WriteFile(op.Path, bytes, 0o644); err != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "failed to write file"), nil
	}
	usage := ExecUsage{BytesOut: uint64(len(bytes)), Calls: 1, FileCount: 1}
	sideEffects := []SideEffectRecord{{Kind: SideEffectWrite, Meta: map[string]any{"path": op.Path, "bytes": usage.BytesOut}}}
	return ExecSuccess(map[string]any{"written_bytes": len(bytes)}, usage, sideEffects), nil
}

func listDir(ectx ExecCtx, op ExecOp) (ExecResult, error) {
	entries, err := os.ReadDir(op.Path)
	if err != nil {
		return ExecFailure(string(errs.PolicyDenyTool), "failed to list directory"), nil
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		kind := "file"
		if entry.IsDir() {
			kind = "dir"
		} else if entry.Type()&os.ModeSymlink != 0 {
			kind = "other"
		}
		items = append(items, map[string]any{"name": entry.Name(), "kind": kind})
	}
	if ectx.Profile.Limits.MaxFiles != nil && uint64(len(items)) > *ectx.Profile.Limits.MaxFiles {
		return ExecFailure(string(errs.PolicyDenyTool), "directory listing exceeds limit"), nil
	}
	usage := ExecUsage{Calls: 1, FileCount: uint64(len(items))}
	sideEffects := []SideEffectRecord{{Kind: SideEffectFilesystem, Meta: map[string]any{"path": op.Path, "count": len(items)}}}
	return ExecSuccess(map[string]any{"entries": items}, usage, sideEffects), nil
}
