// Package wal provides the per-namespace write-ahead log.
//
// Every write operation is appended and made durable before it is
// acknowledged; segments and manifests are built afterwards. A crash
// between acknowledgement and manifest publication is repaired on startup
// by replaying the surviving entries.
//
// On-disk format:
//
//	"EWAL" u8(version)
//	repeat:
//	  u32 length
//	  [length] bytes            // deterministically encoded operation
//	  u32 crc32(bytes)
//
// Recovery is best-effort: isolated corrupt entries are skipped, an absurd
// length or a truncated tail stops the scan, and a bad file header (magic or
// version) fails the read with an error. Two backends share
// the format: append-only local files with fsync, and an object-store
// variant writing one key per append.
package wal
