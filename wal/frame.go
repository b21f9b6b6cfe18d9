package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
)

// frameEntry wraps an encoded entry payload in the on-disk framing:
// u32 length, payload, u32 crc32(payload).
func frameEntry(payload []byte) []byte {
	framed := make([]byte, 0, 8+len(payload))
	framed = binary.LittleEndian.AppendUint32(framed, uint32(len(payload)))
	framed = append(framed, payload...)
	framed = binary.LittleEndian.AppendUint32(framed, crc32.ChecksumIEEE(payload))
	return framed
}

// fileHeader returns the magic + version prefix.
func fileHeader() []byte {
	return append([]byte(Magic), Version)
}

// checkHeader validates the magic and version at the start of data and
// returns the remaining entry stream. A bad header is structural
// corruption: the caller must fail hard.
func checkHeader(data []byte) ([]byte, error) {
	if len(data) < len(Magic)+1 {
		return nil, fmt.Errorf("wal header truncated: %d bytes", len(data))
	}
	if string(data[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("bad wal magic %q", data[:len(Magic)])
	}
	if data[len(Magic)] != Version {
		return nil, fmt.Errorf("unsupported wal version %d", data[len(Magic)])
	}
	return data[len(Magic)+1:], nil
}

// scanEntries walks an entry stream, salvaging what it can.
//
// Per the recovery contract: a declared length above SafetyMaxEntry or a
// short read stops the scan (structural corruption / crash truncation);
// a CRC mismatch or decode failure skips that entry and continues.
func scanEntries(data []byte, logger *slog.Logger, stats *RecoveryStats) []Entry {
	var entries []Entry
	off := 0
	for off < len(data) {
		if len(data)-off < 4 {
			// Trailing partial length from a crash mid-write.
			stats.Total++
			stats.Corrupted++
			break
		}
		length := binary.LittleEndian.Uint32(data[off:])
		off += 4
		if length > SafetyMaxEntry {
			logger.Warn("wal entry length exceeds safety cap, stopping scan",
				"length", length, "offset", off-4)
			stats.Total++
			stats.Corrupted++
			break
		}
		if len(data)-off < int(length)+4 {
			logger.Warn("wal entry truncated, stopping scan",
				"declared", length, "available", len(data)-off)
			stats.Total++
			stats.Corrupted++
			break
		}
		payload := data[off : off+int(length)]
		off += int(length)
		storedCRC := binary.LittleEndian.Uint32(data[off:])
		off += 4

		stats.Total++
		if crc32.ChecksumIEEE(payload) != storedCRC {
			logger.Warn("wal entry crc mismatch, skipping", "entry", stats.Total-1)
			stats.Corrupted++
			continue
		}
		entry, err := DecodeEntry(payload)
		if err != nil {
			logger.Warn("wal entry decode failed, skipping",
				"entry", stats.Total-1, "error", err)
			stats.Corrupted++
			continue
		}
		entries = append(entries, *entry)
		stats.Recovered++
	}
	return entries
}
