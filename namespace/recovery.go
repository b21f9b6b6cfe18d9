package namespace

import (
	"context"
	"fmt"

	"github.com/lqhl/elacsym/manifest"
	"github.com/lqhl/elacsym/wal"
)

// recover replays WAL entries that never made it into a published
// manifest. Entries at or below the manifest watermark are already
// visible; the rest are re-applied through the normal (non-logging) apply
// path, whose deterministic segment ids make replay idempotent.
func (ns *Namespace) recover(ctx context.Context) error {
	entries, stats, err := ns.wal.ReadAll(ctx)
	if err != nil {
		return err
	}
	if stats.Total > 0 {
		ns.logger.Info(fmt.Sprintf("recovered %d/%d entries; %d corrupted/truncated",
			stats.Recovered, stats.Total, stats.Corrupted))
	}
	if len(entries) == 0 {
		return nil
	}

	cur, err := ns.snapshot(ctx, manifest.Strong)
	if err != nil {
		return err
	}
	watermark := cur.WALWatermark

	replayed := 0
	for i := range entries {
		entry := &entries[i]
		if entry.Sequence <= watermark {
			continue
		}
		switch entry.Op.Type {
		case wal.OpUpsert:
			if err := ns.applyUpsert(ctx, entry.Op.Documents, entry.Sequence); err != nil {
				return err
			}
			replayed++
		case wal.OpDelete:
			if err := ns.applyDelete(ctx, entry.Op.IDs, entry.Sequence); err != nil {
				return err
			}
			replayed++
		case wal.OpCommit:
			// Commit markers carry no state of their own.
		}
	}

	if replayed > 0 {
		ns.logger.Info("wal replay committed", "entries", replayed)
		ns.deps.Metrics.IncWALRecovery()
		last := entries[len(entries)-1].Sequence
		if err := ns.wal.TruncateBefore(ctx, last); err != nil {
			ns.logger.Warn("wal truncation after recovery failed", "error", err)
		}
	}
	return nil
}
