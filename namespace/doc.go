// Package namespace composes the per-tenant engine: the write path
// (validate, WAL, segment + index build, manifest publication, WAL
// truncation), the read path (manifest resolution, planning, per-segment
// execution, fusion, row fetch), startup recovery, and background
// compaction. A Manager owns the namespaces resident on one node.
package namespace
