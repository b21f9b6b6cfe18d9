package wal

import (
	"context"

	"github.com/lqhl/elacsym/model"
)

// Magic and version identify the WAL file format.
const (
	Magic   = "EWAL"
	Version = 1
)

// SafetyMaxEntry caps the declared entry length during recovery; anything
// larger is treated as structural corruption.
const SafetyMaxEntry = 100 << 20

// DefaultMaxFileSize triggers rotation of the active log file.
const DefaultMaxFileSize = 100 << 20

// DefaultMaxFiles bounds the number of retained rotated files.
const DefaultMaxFiles = 5

// OpType discriminates WAL operations.
type OpType uint8

const (
	// OpUpsert inserts or replaces documents.
	OpUpsert OpType = iota + 1
	// OpDelete suppresses documents by id.
	OpDelete
	// OpCommit marks a batch as committed.
	OpCommit
)

// Operation is a single logged write operation.
type Operation struct {
	Type      OpType
	Documents []model.Document // OpUpsert
	IDs       []model.DocID    // OpDelete
	BatchID   uint64           // OpCommit
}

// Entry is an operation with its log metadata.
type Entry struct {
	Sequence    uint64
	TimestampMS int64
	Op          Operation
}

// RecoveryStats summarizes a recovery scan.
type RecoveryStats struct {
	// Total counts entries encountered, including unreadable ones.
	Total int
	// Recovered counts entries that passed CRC and decoded cleanly.
	Recovered int
	// Corrupted counts entries skipped for CRC mismatch, truncation, or
	// decode failure.
	Corrupted int
}

// Log is the write-ahead log contract shared by both backends.
type Log interface {
	// Append serializes op, makes it durable, and returns its sequence.
	Append(ctx context.Context, op Operation) (uint64, error)

	// Sync forces buffered entries to the durable medium.
	Sync(ctx context.Context) error

	// ReadAll replays the log for recovery, salvaging what it can.
	ReadAll(ctx context.Context) ([]Entry, RecoveryStats, error)

	// Truncate deletes all log data for the namespace.
	Truncate(ctx context.Context) error

	// TruncateBefore deletes log data whose entries all have sequence
	// numbers <= watermark.
	TruncateBefore(ctx context.Context, watermark uint64) error

	// NextSequence returns the sequence the next append will receive.
	NextSequence() uint64

	Close() error
}
