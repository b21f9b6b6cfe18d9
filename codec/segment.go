package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/lqhl/elacsym/model"
)

const (
	segmentMagic = "ESEG"
	footerMagic  = "ESGF"
	formatVer    = 1
)

// column type tags in the footer.
const (
	colID uint8 = iota
	colVector
	colString
	colInt
	colFloat
	colBool
	colStringArray
)

// Reserved column names. Attribute columns use their attribute name.
const (
	idColumn     = "$id"
	vectorColumn = "$vector"
)

// WriteOptions tunes segment encoding.
type WriteOptions struct {
	Compression Compression
}

// DefaultWriteOptions compresses column blocks with zstd.
var DefaultWriteOptions = WriteOptions{Compression: CompressionZstd}

type columnMeta struct {
	name    string
	typ     uint8
	offset  uint64
	length  uint64
	rawSize uint64
}

// Write encodes docs into an immutable columnar payload. Rows are sorted
// by id; a duplicate id within the batch keeps the last occurrence.
// Attribute keys not declared in the schema are dropped.
func Write(schema *model.Schema, docs []model.Document, opts WriteOptions) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("cannot encode empty segment")
	}

	rows := NormalizeRows(docs)
	n := len(rows)

	buf := make([]byte, 0, 1024)
	buf = append(buf, segmentMagic...)
	buf = append(buf, formatVer, byte(opts.Compression))

	var cols []columnMeta
	appendCol := func(name string, typ uint8, raw []byte) error {
		block, err := compressBlock(opts.Compression, raw)
		if err != nil {
			return err
		}
		cols = append(cols, columnMeta{
			name:    name,
			typ:     typ,
			offset:  uint64(len(buf)),
			length:  uint64(len(block)),
			rawSize: uint64(len(raw)),
		})
		buf = append(buf, block...)
		return nil
	}

	// id column
	idRaw := make([]byte, 0, n*8)
	for _, doc := range rows {
		idRaw = binary.LittleEndian.AppendUint64(idRaw, uint64(doc.ID))
	}
	if err := appendCol(idColumn, colID, idRaw); err != nil {
		return nil, err
	}

	// vector column
	if err := appendCol(vectorColumn, colVector, encodeVectorColumn(rows, schema.VectorDim)); err != nil {
		return nil, err
	}

	// attribute columns, sorted by name for a deterministic layout
	names := make([]string, 0, len(schema.Attributes))
	for name := range schema.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		attr := schema.Attributes[name]
		raw, typ, err := encodeAttrColumn(rows, name, attr.Type)
		if err != nil {
			return nil, err
		}
		if err := appendCol(name, typ, raw); err != nil {
			return nil, err
		}
	}

	// footer
	footer := make([]byte, 0, 64)
	footer = binary.LittleEndian.AppendUint32(footer, uint32(len(cols)))
	for _, c := range cols {
		footer = binary.LittleEndian.AppendUint16(footer, uint16(len(c.name)))
		footer = append(footer, c.name...)
		footer = append(footer, c.typ)
		footer = binary.LittleEndian.AppendUint64(footer, c.offset)
		footer = binary.LittleEndian.AppendUint64(footer, c.length)
		footer = binary.LittleEndian.AppendUint64(footer, c.rawSize)
	}
	footer = binary.LittleEndian.AppendUint64(footer, uint64(n))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(rows[0].ID))
	footer = binary.LittleEndian.AppendUint64(footer, uint64(rows[n-1].ID))

	buf = append(buf, footer...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(footer)))
	buf = append(buf, footerMagic...)
	return buf, nil
}

// NormalizeRows sorts docs by id, keeping the last occurrence of each
// duplicated id. The result is the row order of the encoded payload, so
// index builders can share it.
func NormalizeRows(docs []model.Document) []model.Document {
	sorted := make([]model.Document, len(docs))
	copy(sorted, docs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := sorted[:0]
	for i := range sorted {
		if len(out) > 0 && out[len(out)-1].ID == sorted[i].ID {
			out[len(out)-1] = sorted[i]
			continue
		}
		out = append(out, sorted[i])
	}
	return out
}

func bitmapBytes(n int) int { return (n + 7) / 8 }

func setBit(bm []byte, i int) { bm[i/8] |= 1 << (i % 8) }

func getBit(bm []byte, i int) bool { return bm[i/8]&(1<<(i%8)) != 0 }

func encodeVectorColumn(rows []model.Document, dim int) []byte {
	n := len(rows)
	raw := make([]byte, 0, 4+bitmapBytes(n)+n*dim*4)
	raw = binary.LittleEndian.AppendUint32(raw, uint32(dim))
	present := make([]byte, bitmapBytes(n))
	for i, doc := range rows {
		if doc.Vector != nil {
			setBit(present, i)
		}
	}
	raw = append(raw, present...)
	for _, doc := range rows {
		for d := 0; d < dim; d++ {
			var f float32
			if doc.Vector != nil {
				f = doc.Vector[d]
			}
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(f))
		}
	}
	return raw
}

func encodeAttrColumn(rows []model.Document, name string, typ model.AttributeType) ([]byte, uint8, error) {
	n := len(rows)
	nulls := make([]byte, bitmapBytes(n))
	value := func(i int) (model.Value, bool) {
		v, ok := rows[i].Attributes[name]
		if !ok || v.IsNull() {
			return model.Value{}, false
		}
		return v, true
	}
	for i := 0; i < n; i++ {
		if _, ok := value(i); !ok {
			setBit(nulls, i)
		}
	}

	switch typ {
	case model.TypeString:
		offsets := make([]byte, 0, (n+1)*4)
		var bytesOut []byte
		offsets = binary.LittleEndian.AppendUint32(offsets, 0)
		for i := 0; i < n; i++ {
			if v, ok := value(i); ok {
				bytesOut = append(bytesOut, v.S...)
			}
			offsets = binary.LittleEndian.AppendUint32(offsets, uint32(len(bytesOut)))
		}
		raw := append(nulls, offsets...)
		raw = append(raw, bytesOut...)
		return raw, colString, nil

	case model.TypeInt:
		raw := make([]byte, 0, len(nulls)+n*8)
		raw = append(raw, nulls...)
		for i := 0; i < n; i++ {
			var x int64
			if v, ok := value(i); ok {
				x = v.I
			}
			raw = binary.LittleEndian.AppendUint64(raw, uint64(x))
		}
		return raw, colInt, nil

	case model.TypeFloat:
		raw := make([]byte, 0, len(nulls)+n*8)
		raw = append(raw, nulls...)
		for i := 0; i < n; i++ {
			var x float64
			if v, ok := value(i); ok {
				if f, fok := v.AsFloat(); fok {
					x = f
				}
			}
			raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(x))
		}
		return raw, colFloat, nil

	case model.TypeBool:
		bits := make([]byte, bitmapBytes(n))
		for i := 0; i < n; i++ {
			if v, ok := value(i); ok && v.B {
				setBit(bits, i)
			}
		}
		raw := append(nulls, bits...)
		return raw, colBool, nil

	case model.TypeStringArray:
		rowOffsets := make([]byte, 0, (n+1)*4)
		var flat []byte
		rowOffsets = binary.LittleEndian.AppendUint32(rowOffsets, 0)
		for i := 0; i < n; i++ {
			if v, ok := value(i); ok {
				flat = binary.LittleEndian.AppendUint32(flat, uint32(len(v.A)))
				for _, s := range v.A {
					flat = binary.LittleEndian.AppendUint32(flat, uint32(len(s)))
					flat = append(flat, s...)
				}
			}
			rowOffsets = binary.LittleEndian.AppendUint32(rowOffsets, uint32(len(flat)))
		}
		raw := append(nulls, rowOffsets...)
		raw = append(raw, flat...)
		return raw, colStringArray, nil

	default:
		return nil, 0, fmt.Errorf("attribute %q: unknown type %d", name, typ)
	}
}
