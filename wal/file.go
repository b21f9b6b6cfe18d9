package wal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lqhl/elacsym"
)

// FileLog is the local-filesystem WAL backend: append-only files with
// fsync, rotated at a size threshold.
type FileLog struct {
	mu          sync.Mutex
	dir         string
	nodeID      string
	maxFileSize int64
	maxFiles    int
	syncEvery   bool
	logger      *slog.Logger

	active     *os.File
	activeSize int64
	nextSeq    uint64
	watermark  uint64
}

// FileOptions tunes the file backend.
type FileOptions struct {
	// MaxFileSize triggers rotation; defaults to 100 MiB.
	MaxFileSize int64
	// MaxFiles bounds retained rotated files; defaults to 5.
	MaxFiles int
	// SyncEveryAppend fsyncs after each append. On by default; turning it
	// off trades durability for throughput.
	SyncEveryAppend *bool
	Logger          *slog.Logger
}

// OpenFileLog opens (or creates) the WAL directory for a namespace.
func OpenFileLog(dir, nodeID string, opts FileOptions) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "create wal directory")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = DefaultMaxFiles
	}
	syncEvery := true
	if opts.SyncEveryAppend != nil {
		syncEvery = *opts.SyncEveryAppend
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &FileLog{
		dir:         dir,
		nodeID:      nodeID,
		maxFileSize: opts.MaxFileSize,
		maxFiles:    opts.MaxFiles,
		syncEvery:   syncEvery,
		logger:      logger.With("component", "wal"),
		nextSeq:     1,
	}
	if err := l.recoverSequence(); err != nil {
		return nil, err
	}
	return l, nil
}

func logFileName(seq uint64, nodeID string) string {
	return fmt.Sprintf("%020d_%s.log", seq, nodeID)
}

// firstSeqOf parses the starting sequence from a log file name.
func firstSeqOf(name string) (uint64, bool) {
	base := filepath.Base(name)
	idx := strings.IndexByte(base, '_')
	if idx <= 0 || !strings.HasSuffix(base, ".log") {
		return 0, false
	}
	seq, err := strconv.ParseUint(base[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// logFiles lists the namespace's log files sorted by starting sequence.
func (l *FileLog) logFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, elacsym.Wrap(elacsym.KindStorage, err, "read wal directory")
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := firstSeqOf(e.Name()); ok {
			files = append(files, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// recoverSequence determines the next sequence from existing files.
func (l *FileLog) recoverSequence() error {
	files, err := l.logFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	last := files[len(files)-1]
	data, err := os.ReadFile(last)
	if err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "read wal file %s", last)
	}
	stream, err := checkHeader(data)
	if err != nil {
		return elacsym.Wrap(elacsym.KindCorruption, err, "wal file %s", last)
	}
	var stats RecoveryStats
	entries := scanEntries(stream, l.logger, &stats)
	if len(entries) > 0 {
		l.nextSeq = entries[len(entries)-1].Sequence + 1
	} else if seq, ok := firstSeqOf(last); ok {
		l.nextSeq = seq
	}
	return nil
}

// rotate opens a fresh log file for the next sequence and prunes old files.
func (l *FileLog) rotate() error {
	if l.active != nil {
		if err := l.active.Sync(); err != nil {
			return elacsym.Wrap(elacsym.KindStorage, err, "sync wal before rotate")
		}
		if err := l.active.Close(); err != nil {
			return elacsym.Wrap(elacsym.KindStorage, err, "close wal before rotate")
		}
		l.active = nil
	}

	path := filepath.Join(l.dir, logFileName(l.nextSeq, l.nodeID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "create wal file")
	}
	if _, err := f.Write(fileHeader()); err != nil {
		f.Close()
		return elacsym.Wrap(elacsym.KindStorage, err, "write wal header")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return elacsym.Wrap(elacsym.KindStorage, err, "sync wal header")
	}
	l.active = f
	l.activeSize = int64(len(Magic) + 1)
	l.pruneLocked()
	return nil
}

// pruneLocked enforces the retained-file bound. Only files wholly before
// the published watermark are deleted; the active (last) file never is.
func (l *FileLog) pruneLocked() {
	files, err := l.logFiles()
	if err != nil || len(files) <= l.maxFiles {
		return
	}
	excess := len(files) - l.maxFiles
	for i := 0; i < excess && i < len(files)-1; i++ {
		nextFirst, ok := firstSeqOf(files[i+1])
		if !ok || nextFirst > l.watermark+1 {
			break
		}
		if err := os.Remove(files[i]); err != nil {
			l.logger.Warn("failed to remove rotated wal file", "file", files[i], "error", err)
		}
	}
}

func (l *FileLog) Append(_ context.Context, op Operation) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil || l.activeSize >= l.maxFileSize {
		if err := l.rotate(); err != nil {
			return 0, err
		}
	}

	entry := Entry{
		Sequence:    l.nextSeq,
		TimestampMS: time.Now().UnixMilli(),
		Op:          op,
	}
	payload, err := EncodeEntry(&entry)
	if err != nil {
		return 0, elacsym.Wrap(elacsym.KindInvalidRequest, err, "encode wal entry")
	}
	framed := frameEntry(payload)
	if _, err := l.active.Write(framed); err != nil {
		return 0, elacsym.Wrap(elacsym.KindStorage, err, "append wal entry")
	}
	if l.syncEvery {
		if err := l.active.Sync(); err != nil {
			return 0, elacsym.Wrap(elacsym.KindStorage, err, "sync wal entry")
		}
	}
	l.activeSize += int64(len(framed))
	seq := l.nextSeq
	l.nextSeq++
	return seq, nil
}

func (l *FileLog) Sync(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return nil
	}
	if err := l.active.Sync(); err != nil {
		return elacsym.Wrap(elacsym.KindStorage, err, "sync wal")
	}
	return nil
}

func (l *FileLog) ReadAll(context.Context) ([]Entry, RecoveryStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []Entry
	var stats RecoveryStats
	files, err := l.logFiles()
	if err != nil {
		return nil, stats, err
	}
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, stats, elacsym.Wrap(elacsym.KindStorage, err, "read wal file %s", file)
		}
		stream, err := checkHeader(data)
		if err != nil {
			return nil, stats, elacsym.Wrap(elacsym.KindCorruption, err, "wal file %s", file)
		}
		all = append(all, scanEntries(stream, l.logger, &stats)...)
	}
	return all, stats, nil
}

func (l *FileLog) Truncate(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active != nil {
		l.active.Close()
		l.active = nil
		l.activeSize = 0
	}
	files, err := l.logFiles()
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			return elacsym.Wrap(elacsym.KindStorage, err, "remove wal file %s", file)
		}
	}
	return nil
}

func (l *FileLog) TruncateBefore(_ context.Context, watermark uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.watermark = watermark
	files, err := l.logFiles()
	if err != nil {
		return err
	}
	for i := 0; i < len(files)-1; i++ {
		nextFirst, ok := firstSeqOf(files[i+1])
		if !ok || nextFirst > watermark+1 {
			break
		}
		if err := os.Remove(files[i]); err != nil {
			return elacsym.Wrap(elacsym.KindStorage, err, "remove wal file %s", files[i])
		}
	}
	return nil
}

func (l *FileLog) NextSequence() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextSeq
}

func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return nil
	}
	err := l.active.Close()
	l.active = nil
	return err
}

var _ Log = (*FileLog)(nil)
