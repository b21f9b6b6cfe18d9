package wal

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/lqhl/elacsym/model"
)

// The entry payload encoding is deterministic: little-endian fixed-width
// fields, attributes sorted by name. Replaying the same operation twice
// produces byte-identical entries.

func appendUint16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// EncodeEntry serializes an entry payload (without framing).
func EncodeEntry(e *Entry) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = appendUint64(buf, e.Sequence)
	buf = appendUint64(buf, uint64(e.TimestampMS))
	buf = append(buf, byte(e.Op.Type))

	switch e.Op.Type {
	case OpUpsert:
		buf = appendUint32(buf, uint32(len(e.Op.Documents)))
		for i := range e.Op.Documents {
			var err error
			buf, err = appendDocument(buf, &e.Op.Documents[i])
			if err != nil {
				return nil, err
			}
		}
	case OpDelete:
		buf = appendUint32(buf, uint32(len(e.Op.IDs)))
		for _, id := range e.Op.IDs {
			buf = appendUint64(buf, uint64(id))
		}
	case OpCommit:
		buf = appendUint64(buf, e.Op.BatchID)
	default:
		return nil, fmt.Errorf("unknown WAL operation type %d", e.Op.Type)
	}
	return buf, nil
}

func appendDocument(buf []byte, doc *model.Document) ([]byte, error) {
	buf = appendUint64(buf, uint64(doc.ID))

	if doc.Vector != nil {
		buf = append(buf, 1)
		buf = appendUint32(buf, uint32(len(doc.Vector)))
		for _, f := range doc.Vector {
			buf = appendUint32(buf, math.Float32bits(f))
		}
	} else {
		buf = append(buf, 0)
	}

	names := make([]string, 0, len(doc.Attributes))
	for name := range doc.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	buf = appendUint16(buf, uint16(len(names)))
	for _, name := range names {
		buf = appendString(buf, name)
		var err error
		buf, err = appendValue(buf, doc.Attributes[name])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendValue(buf []byte, v model.Value) ([]byte, error) {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case model.KindNull:
	case model.KindString:
		buf = appendString(buf, v.S)
	case model.KindInt:
		buf = appendUint64(buf, uint64(v.I))
	case model.KindFloat:
		buf = appendUint64(buf, math.Float64bits(v.F))
	case model.KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case model.KindStringArray:
		buf = appendUint32(buf, uint32(len(v.A)))
		for _, s := range v.A {
			buf = appendString(buf, s)
		}
	default:
		return nil, fmt.Errorf("unknown value kind %d", v.Kind)
	}
	return buf, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remain() int { return len(r.data) - r.off }

func (r *reader) u8() (byte, error) {
	if r.remain() < 1 {
		return 0, fmt.Errorf("wal entry truncated at offset %d", r.off)
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remain() < 2 {
		return 0, fmt.Errorf("wal entry truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remain() < 4 {
		return 0, fmt.Errorf("wal entry truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.remain() < 8 {
		return 0, fmt.Errorf("wal entry truncated at offset %d", r.off)
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if r.remain() < int(n) {
		return "", fmt.Errorf("wal entry truncated at offset %d", r.off)
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

// DecodeEntry parses an entry payload produced by EncodeEntry.
func DecodeEntry(data []byte) (*Entry, error) {
	r := &reader{data: data}
	seq, err := r.u64()
	if err != nil {
		return nil, err
	}
	ts, err := r.u64()
	if err != nil {
		return nil, err
	}
	opType, err := r.u8()
	if err != nil {
		return nil, err
	}

	e := &Entry{
		Sequence:    seq,
		TimestampMS: int64(ts),
		Op:          Operation{Type: OpType(opType)},
	}

	switch e.Op.Type {
	case OpUpsert:
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		docs := make([]model.Document, 0, count)
		for i := uint32(0); i < count; i++ {
			doc, err := readDocument(r)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		e.Op.Documents = docs
	case OpDelete:
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		ids := make([]model.DocID, 0, count)
		for i := uint32(0); i < count; i++ {
			id, err := r.u64()
			if err != nil {
				return nil, err
			}
			ids = append(ids, model.DocID(id))
		}
		e.Op.IDs = ids
	case OpCommit:
		batchID, err := r.u64()
		if err != nil {
			return nil, err
		}
		e.Op.BatchID = batchID
	default:
		return nil, fmt.Errorf("unknown WAL operation type %d", opType)
	}

	if r.remain() != 0 {
		return nil, fmt.Errorf("wal entry has %d trailing bytes", r.remain())
	}
	return e, nil
}

func readDocument(r *reader) (model.Document, error) {
	var doc model.Document
	id, err := r.u64()
	if err != nil {
		return doc, err
	}
	doc.ID = model.DocID(id)

	hasVector, err := r.u8()
	if err != nil {
		return doc, err
	}
	if hasVector == 1 {
		dim, err := r.u32()
		if err != nil {
			return doc, err
		}
		vec := make(model.Vector, dim)
		for i := range vec {
			bits, err := r.u32()
			if err != nil {
				return doc, err
			}
			vec[i] = math.Float32frombits(bits)
		}
		doc.Vector = vec
	}

	attrCount, err := r.u16()
	if err != nil {
		return doc, err
	}
	if attrCount > 0 {
		doc.Attributes = make(map[string]model.Value, attrCount)
	}
	for i := uint16(0); i < attrCount; i++ {
		name, err := r.str()
		if err != nil {
			return doc, err
		}
		val, err := readValue(r)
		if err != nil {
			return doc, err
		}
		doc.Attributes[name] = val
	}
	return doc, nil
}

func readValue(r *reader) (model.Value, error) {
	kind, err := r.u8()
	if err != nil {
		return model.Value{}, err
	}
	switch model.ValueKind(kind) {
	case model.KindNull:
		return model.Value{}, nil
	case model.KindString:
		s, err := r.str()
		if err != nil {
			return model.Value{}, err
		}
		return model.String(s), nil
	case model.KindInt:
		v, err := r.u64()
		if err != nil {
			return model.Value{}, err
		}
		return model.Int(int64(v)), nil
	case model.KindFloat:
		v, err := r.u64()
		if err != nil {
			return model.Value{}, err
		}
		return model.Float(math.Float64frombits(v)), nil
	case model.KindBool:
		b, err := r.u8()
		if err != nil {
			return model.Value{}, err
		}
		return model.Bool(b == 1), nil
	case model.KindStringArray:
		count, err := r.u32()
		if err != nil {
			return model.Value{}, err
		}
		arr := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			s, err := r.str()
			if err != nil {
				return model.Value{}, err
			}
			arr = append(arr, s)
		}
		return model.Strings(arr...), nil
	default:
		return model.Value{}, fmt.Errorf("unknown value kind %d", kind)
	}
}
