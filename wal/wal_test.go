package wal

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lqhl/elacsym/blobstore"
	"github.com/lqhl/elacsym/model"
)

func testDoc(id model.DocID) model.Document {
	return model.Document{
		ID:     id,
		Vector: model.Vector{float32(id), 0.5, -1},
		Attributes: map[string]model.Value{
			"title": model.String("doc"),
			"rank":  model.Int(int64(id)),
		},
	}
}

func TestFileLogAppendAndReadAll(t *testing.T) {
	ctx := context.Background()
	log, err := OpenFileLog(t.TempDir(), "node-1", FileOptions{})
	require.NoError(t, err)
	defer log.Close()

	seq1, err := log.Append(ctx, Operation{Type: OpUpsert, Documents: []model.Document{testDoc(1), testDoc(2)}})
	require.NoError(t, err)
	seq2, err := log.Append(ctx, Operation{Type: OpDelete, IDs: []model.DocID{2}})
	require.NoError(t, err)
	assert.Less(t, seq1, seq2, "sequences must be strictly increasing")

	entries, stats, err := log.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Recovered)
	assert.Zero(t, stats.Corrupted)
	require.Len(t, entries, 2)
	assert.Equal(t, OpUpsert, entries[0].Op.Type)
	assert.Equal(t, testDoc(1), entries[0].Op.Documents[0])
	assert.Equal(t, testDoc(2), entries[0].Op.Documents[1])
	assert.Equal(t, []model.DocID{2}, entries[1].Op.IDs)
}

func TestFileLogSequenceSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	log, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := log.Append(ctx, Operation{Type: OpCommit, BatchID: uint64(i)})
		require.NoError(t, err)
	}
	last := log.NextSequence()
	require.NoError(t, log.Close())

	reopened, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, last, reopened.NextSequence())
}

func TestFileLogTruncate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	defer log.Close()

	_, err = log.Append(ctx, Operation{Type: OpUpsert, Documents: []model.Document{testDoc(1)}})
	require.NoError(t, err)
	require.NoError(t, log.Truncate(ctx))

	entries, _, err := log.ReadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The sequence keeps increasing across truncation.
	seq, err := log.Append(ctx, Operation{Type: OpCommit, BatchID: 9})
	require.NoError(t, err)
	assert.Greater(t, seq, uint64(1))
}

func TestFileLogRotation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := OpenFileLog(dir, "node-1", FileOptions{MaxFileSize: 128})
	require.NoError(t, err)
	defer log.Close()

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, Operation{Type: OpUpsert, Documents: []model.Document{testDoc(model.DocID(i))}})
		require.NoError(t, err)
	}

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(files), 1, "small max size should have rotated")

	entries, _, err := log.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	// Everything at or below the watermark becomes deletable.
	require.NoError(t, log.TruncateBefore(ctx, entries[len(entries)-1].Sequence))
	remaining, _, err := log.ReadAll(ctx)
	require.NoError(t, err)
	assert.Less(t, len(remaining), 10)
}

// corruptSecondEntry flips one payload byte inside the second entry of
// the single log file in dir.
func corruptSecondEntry(t *testing.T, dir string) {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)

	// header (5) + first entry: 4 len + payload + 4 crc
	off := 5
	length := int(uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24)
	off += 4 + length + 4
	// second entry payload starts after its length prefix
	data[off+4+10] ^= 0xFF
	require.NoError(t, os.WriteFile(files[0], data, 0o640))
}

func TestFileLogRecoverySkipsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := log.Append(ctx, Operation{Type: OpUpsert, Documents: []model.Document{testDoc(model.DocID(i))}})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	corruptSecondEntry(t, dir)

	reopened, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	entries, stats, err := reopened.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Recovered)
	assert.Equal(t, 1, stats.Corrupted)
	require.Len(t, entries, 2)
	assert.Equal(t, model.DocID(1), entries[0].Op.Documents[0].ID)
	assert.Equal(t, model.DocID(3), entries[1].Op.Documents[0].ID)
}

func TestFileLogRecoveryStopsAtTruncatedTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	for i := 1; i <= 2; i++ {
		_, err := log.Append(ctx, Operation{Type: OpUpsert, Documents: []model.Document{testDoc(model.DocID(i))}})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	// Simulate a crash mid-write of the last entry.
	require.NoError(t, os.WriteFile(files[0], data[:len(data)-6], 0o640))

	reopened, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	defer reopened.Close()

	entries, stats, err := reopened.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, stats.Corrupted)
}

func TestFileLogBadHeaderIsFatal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	log, err := OpenFileLog(dir, "node-1", FileOptions{})
	require.NoError(t, err)
	_, err = log.Append(ctx, Operation{Type: OpCommit, BatchID: 1})
	require.NoError(t, err)
	require.NoError(t, log.Close())

	files, err := filepath.Glob(filepath.Join(dir, "*.log"))
	require.NoError(t, err)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	copy(data, "XXXX")
	require.NoError(t, os.WriteFile(files[0], data, 0o640))

	_, err = OpenFileLog(dir, "node-1", FileOptions{})
	assert.Error(t, err)
}

func TestEntryEncodingDeterministic(t *testing.T) {
	entry := &Entry{
		Sequence:    7,
		TimestampMS: 12345,
		Op: Operation{Type: OpUpsert, Documents: []model.Document{
			{
				ID: 9,
				Attributes: map[string]model.Value{
					"b": model.Int(2),
					"a": model.String("x"),
					"c": model.Strings("p", "q"),
				},
			},
		}},
	}
	first, err := EncodeEntry(entry)
	require.NoError(t, err)
	for i := 0; i < 16; i++ {
		again, err := EncodeEntry(entry)
		require.NoError(t, err)
		assert.Equal(t, first, again, "encoding must be byte-identical across runs")
	}

	decoded, err := DecodeEntry(first)
	require.NoError(t, err)
	assert.Equal(t, entry.Sequence, decoded.Sequence)
	assert.Equal(t, entry.Op.Documents, decoded.Op.Documents)
}

func TestObjectLog(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	log := OpenObjectLog(store, "tenant/wal/", "node-1", nil)

	seq1, err := log.Append(ctx, Operation{Type: OpUpsert, Documents: []model.Document{testDoc(1)}})
	require.NoError(t, err)
	seq2, err := log.Append(ctx, Operation{Type: OpDelete, IDs: []model.DocID{1}})
	require.NoError(t, err)
	assert.Less(t, seq1, seq2)

	keys, err := store.List(ctx, "tenant/wal/")
	require.NoError(t, err)
	assert.Len(t, keys, 2, "one key per append")

	entries, stats, err := log.ReadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Recovered)
	require.Len(t, entries, 2)

	require.NoError(t, log.TruncateBefore(ctx, seq1))
	keys, err = store.List(ctx, "tenant/wal/")
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, log.Truncate(ctx))
	keys, err = store.List(ctx, "tenant/wal/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestObjectLogSequenceDiscovery(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()

	first := OpenObjectLog(store, "tenant/wal/", "node-1", nil)
	for i := 0; i < 3; i++ {
		_, err := first.Append(ctx, Operation{Type: OpCommit, BatchID: uint64(i)})
		require.NoError(t, err)
	}

	second := OpenObjectLog(store, "tenant/wal/", "node-2", nil)
	seq, err := second.Append(ctx, Operation{Type: OpCommit, BatchID: 99})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}
