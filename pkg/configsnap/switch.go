package configsnap

import "sync/atomic"

// Provider exposes the current config fingerprint to callers that only
// need the version/checksum pair (the interceptor chain's ContextInit
// stage, tool registry config-fingerprint stamping) without depending on
// the rest of this package's surface.
type Provider interface {
	Current() Snapshot
	Fingerprint() (version, checksum string)
}

// SnapshotSwitch holds the currently-active Snapshot behind an atomic
// pointer and a separately-held last-known-good snapshot that Rollback
// restores. Reads never block a concurrent Swap; Swap only updates the
// last-known-good pointer when the caller explicitly promotes a snapshot
// via MarkGood, so a bad reload can always be rolled back to the prior
// good one even after several Swaps.
type SnapshotSwitch struct {
	current atomic.Pointer[Snapshot]
	lkg     atomic.Pointer[Snapshot]
}

// NewSwitch builds a SnapshotSwitch whose current and last-known-good
// snapshots both start as initial.
func NewSwitch(initial Snapshot) *SnapshotSwitch {
	sw := &SnapshotSwitch{}
	sw.current.Store(&initial)
	sw.lkg.Store(&initial)
	return sw
}

// Current returns the active snapshot.
func (sw *SnapshotSwitch) Current() Snapshot {
	return *sw.current.Load()
}

// Fingerprint returns the active snapshot's (version, checksum) pair, the
// same values the gateway stamps into X-Config-Version/X-Config-Checksum.
func (sw *SnapshotSwitch) Fingerprint() (string, string) {
	snap := sw.Current()
	return snap.Version(), snap.Checksum()
}

// Swap atomically installs next as the active snapshot. It does not by
// itself move the last-known-good pointer; callers that trust next call
// MarkGood once it has proven itself (e.g. after a grace period with no
// reload-triggered errors).
func (sw *SnapshotSwitch) Swap(next Snapshot) {
	sw.current.Store(&next)
}

// MarkGood promotes the currently active snapshot to last-known-good.
func (sw *SnapshotSwitch) MarkGood() {
	sw.lkg.Store(sw.current.Load())
}

// Rollback restores the last-known-good snapshot as current and returns
// it, used when a hot reload's validation or smoke checks fail after the
// swap already landed.
func (sw *SnapshotSwitch) Rollback() Snapshot {
	lkg := sw.lkg.Load()
	sw.current.Store(lkg)
	return *lkg
}
