package tx

import "github.com/wisbric/agentcore/pkg/errs"

// errorCode extracts the catalog code from err if it is an *errs.Error,
// else falls back to UNKNOWN.INTERNAL; used to label dispatch metrics
// without type-asserting at every call site.
func errorCode(err error) string {
	if e, ok := err.(*errs.Error); ok {
		return string(e.Code)
	}
	return string(errs.UnknownInternal)
}

// errConflict, errIdempoBusy, and errIdempoFailed name the three catalog
// codes the idempotency and outbox stores raise; kept as functions (not
// package vars) since errs.Error carries a WithDevMessage that varies per
// call site.
func errConflict(msg string) *errs.Error {
	return errs.New(errs.StorageConflict).WithDevMessage(msg)
}

func errIdempoBusy() *errs.Error {
	return errs.New(errs.TxIdempotentBusy)
}

func errIdempoFailed() *errs.Error {
	return errs.New(errs.TxIdempotentLastFailed)
}

func errNotFound(msg string) *errs.Error {
	return errs.New(errs.StorageNotFound).WithDevMessage(msg)
}

func errBudgetExceeded(msg string) *errs.Error {
	return errs.New(errs.QuotaBudgetExceeded).WithDevMessage(msg)
}
