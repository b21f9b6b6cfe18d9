package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lqhl/elacsym/model"
)

// Segment is a decoded handle over an encoded payload. Column blocks are
// decompressed lazily and memoized; the handle is safe for concurrent use.
type Segment struct {
	data        []byte
	compression Compression
	cols        map[string]*columnRef
	rowCount    int
	minID       model.DocID
	maxID       model.DocID

	mu  sync.Mutex
	ids []model.DocID // decoded id column
}

type columnRef struct {
	meta columnMeta

	once sync.Once
	raw  []byte
	err  error
}

// Open parses the footer of an encoded segment payload.
func Open(data []byte) (*Segment, error) {
	if len(data) < 14 || string(data[:4]) != segmentMagic {
		return nil, fmt.Errorf("not a segment payload")
	}
	if data[4] != formatVer {
		return nil, fmt.Errorf("unsupported segment format version %d", data[4])
	}
	comp := Compression(data[5])

	tail := data[len(data)-8:]
	if string(tail[4:]) != footerMagic {
		return nil, fmt.Errorf("segment footer magic missing")
	}
	footerLen := binary.LittleEndian.Uint32(tail[:4])
	footerStart := len(data) - 8 - int(footerLen)
	if footerStart < 6 {
		return nil, fmt.Errorf("segment footer length %d out of bounds", footerLen)
	}
	footer := data[footerStart : len(data)-8]

	s := &Segment{
		data:        data,
		compression: comp,
		cols:        make(map[string]*columnRef),
	}

	off := 0
	need := func(n int) error {
		if len(footer)-off < n {
			return fmt.Errorf("segment footer truncated")
		}
		return nil
	}
	if err := need(4); err != nil {
		return nil, err
	}
	colCount := binary.LittleEndian.Uint32(footer[off:])
	off += 4
	for i := uint32(0); i < colCount; i++ {
		if err := need(2); err != nil {
			return nil, err
		}
		nameLen := int(binary.LittleEndian.Uint16(footer[off:]))
		off += 2
		if err := need(nameLen + 1 + 24); err != nil {
			return nil, err
		}
		name := string(footer[off : off+nameLen])
		off += nameLen
		typ := footer[off]
		off++
		offset := binary.LittleEndian.Uint64(footer[off:])
		length := binary.LittleEndian.Uint64(footer[off+8:])
		rawSize := binary.LittleEndian.Uint64(footer[off+16:])
		off += 24
		if offset+length > uint64(footerStart) {
			return nil, fmt.Errorf("column %q extends past footer", name)
		}
		s.cols[name] = &columnRef{meta: columnMeta{
			name: name, typ: typ, offset: offset, length: length, rawSize: rawSize,
		}}
	}
	if err := need(24); err != nil {
		return nil, err
	}
	s.rowCount = int(binary.LittleEndian.Uint64(footer[off:]))
	s.minID = model.DocID(binary.LittleEndian.Uint64(footer[off+8:]))
	s.maxID = model.DocID(binary.LittleEndian.Uint64(footer[off+16:]))
	return s, nil
}

// RowCount returns the number of rows without decoding any column.
func (s *Segment) RowCount() int { return s.rowCount }

// IDRange returns the [min, max] document id range.
func (s *Segment) IDRange() (model.DocID, model.DocID) { return s.minID, s.maxID }

// RowCount parses only the footer of data.
func RowCount(data []byte) (int, error) {
	s, err := Open(data)
	if err != nil {
		return 0, err
	}
	return s.rowCount, nil
}

// IDRange parses only the footer of data.
func IDRange(data []byte) (model.DocID, model.DocID, error) {
	s, err := Open(data)
	if err != nil {
		return 0, 0, err
	}
	return s.minID, s.maxID, nil
}

func (s *Segment) column(name string) (*columnRef, []byte, error) {
	ref, ok := s.cols[name]
	if !ok {
		return nil, nil, fmt.Errorf("column %q not present", name)
	}
	ref.once.Do(func() {
		block := s.data[ref.meta.offset : ref.meta.offset+ref.meta.length]
		ref.raw, ref.err = decompressBlock(s.compression, block)
		if ref.err == nil && uint64(len(ref.raw)) != ref.meta.rawSize {
			ref.err = fmt.Errorf("column %q: decompressed size %d, want %d",
				name, len(ref.raw), ref.meta.rawSize)
		}
	})
	return ref, ref.raw, ref.err
}

// IDs decodes (and memoizes) the id column.
func (s *Segment) IDs() ([]model.DocID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids != nil {
		return s.ids, nil
	}
	_, raw, err := s.column(idColumn)
	if err != nil {
		return nil, err
	}
	if len(raw) != s.rowCount*8 {
		return nil, fmt.Errorf("id column has %d bytes, want %d", len(raw), s.rowCount*8)
	}
	ids := make([]model.DocID, s.rowCount)
	for i := range ids {
		ids[i] = model.DocID(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	s.ids = ids
	return ids, nil
}

// RowOf locates the row index of id via binary search.
func (s *Segment) RowOf(id model.DocID) (int, bool) {
	ids, err := s.IDs()
	if err != nil {
		return 0, false
	}
	i := sort.Search(len(ids), func(j int) bool { return ids[j] >= id })
	if i < len(ids) && ids[i] == id {
		return i, true
	}
	return 0, false
}

// VectorAt returns the vector stored at row, or false if the row has none.
func (s *Segment) VectorAt(row int) (model.Vector, bool, error) {
	_, raw, err := s.column(vectorColumn)
	if err != nil {
		return nil, false, err
	}
	if len(raw) < 4 {
		return nil, false, fmt.Errorf("vector column truncated")
	}
	dim := int(binary.LittleEndian.Uint32(raw))
	bm := raw[4 : 4+bitmapBytes(s.rowCount)]
	if !getBit(bm, row) {
		return nil, false, nil
	}
	base := 4 + bitmapBytes(s.rowCount) + row*dim*4
	if base+dim*4 > len(raw) {
		return nil, false, fmt.Errorf("vector column truncated at row %d", row)
	}
	vec := make(model.Vector, dim)
	for d := 0; d < dim; d++ {
		vec[d] = math.Float32frombits(binary.LittleEndian.Uint32(raw[base+d*4:]))
	}
	return vec, true, nil
}

// ValueAt returns the attribute value stored at row for the named column.
// Missing attributes decode as null.
func (s *Segment) ValueAt(field string, row int) (model.Value, error) {
	ref, raw, err := s.column(field)
	if err != nil {
		return model.Value{}, err
	}
	return decodeValueAt(ref.meta.typ, raw, s.rowCount, row)
}

// ReadColumn decodes all rows of one attribute column.
func (s *Segment) ReadColumn(field string) ([]model.Value, error) {
	ref, raw, err := s.column(field)
	if err != nil {
		return nil, err
	}
	out := make([]model.Value, s.rowCount)
	for row := 0; row < s.rowCount; row++ {
		v, err := decodeValueAt(ref.meta.typ, raw, s.rowCount, row)
		if err != nil {
			return nil, err
		}
		out[row] = v
	}
	return out, nil
}

// HasColumn reports whether the named column exists in the payload.
func (s *Segment) HasColumn(field string) bool {
	_, ok := s.cols[field]
	return ok
}

func decodeValueAt(typ uint8, raw []byte, rows, row int) (model.Value, error) {
	nb := bitmapBytes(rows)
	if len(raw) < nb {
		return model.Value{}, fmt.Errorf("column truncated")
	}
	if getBit(raw[:nb], row) {
		return model.Value{}, nil // null bit set
	}
	body := raw[nb:]

	switch typ {
	case colString:
		offEnd := (rows + 1) * 4
		if len(body) < offEnd {
			return model.Value{}, fmt.Errorf("string column truncated")
		}
		start := binary.LittleEndian.Uint32(body[row*4:])
		end := binary.LittleEndian.Uint32(body[(row+1)*4:])
		bytesOut := body[offEnd:]
		if int(end) > len(bytesOut) || start > end {
			return model.Value{}, fmt.Errorf("string column offsets corrupt")
		}
		return model.String(string(bytesOut[start:end])), nil

	case colInt:
		if len(body) < (row+1)*8 {
			return model.Value{}, fmt.Errorf("int column truncated")
		}
		return model.Int(int64(binary.LittleEndian.Uint64(body[row*8:]))), nil

	case colFloat:
		if len(body) < (row+1)*8 {
			return model.Value{}, fmt.Errorf("float column truncated")
		}
		return model.Float(math.Float64frombits(binary.LittleEndian.Uint64(body[row*8:]))), nil

	case colBool:
		if len(body) < nb {
			return model.Value{}, fmt.Errorf("bool column truncated")
		}
		return model.Bool(getBit(body[:nb], row)), nil

	case colStringArray:
		offEnd := (rows + 1) * 4
		if len(body) < offEnd {
			return model.Value{}, fmt.Errorf("list column truncated")
		}
		start := binary.LittleEndian.Uint32(body[row*4:])
		end := binary.LittleEndian.Uint32(body[(row+1)*4:])
		flat := body[offEnd:]
		if int(end) > len(flat) || start > end {
			return model.Value{}, fmt.Errorf("list column offsets corrupt")
		}
		region := flat[start:end]
		if len(region) < 4 {
			return model.Value{}, fmt.Errorf("list column region corrupt")
		}
		count := binary.LittleEndian.Uint32(region)
		pos := 4
		arr := make([]string, 0, count)
		for i := uint32(0); i < count; i++ {
			if len(region)-pos < 4 {
				return model.Value{}, fmt.Errorf("list column region corrupt")
			}
			slen := int(binary.LittleEndian.Uint32(region[pos:]))
			pos += 4
			if len(region)-pos < slen {
				return model.Value{}, fmt.Errorf("list column region corrupt")
			}
			arr = append(arr, string(region[pos:pos+slen]))
			pos += slen
		}
		return model.Strings(arr...), nil

	default:
		return model.Value{}, fmt.Errorf("unknown column type %d", typ)
	}
}

// ReadByIDs decodes the rows whose ids are in the requested set. The
// projection selects attribute columns (nil means every declared column in
// the payload); includeVector controls vector materialization. Rows come
// back in ascending id order; ids absent from the segment are skipped.
func (s *Segment) ReadByIDs(ids []model.DocID, projection []string, includeVector bool) ([]model.Document, error) {
	fields := projection
	if fields == nil {
		for name := range s.cols {
			if name == idColumn || name == vectorColumn {
				continue
			}
			fields = append(fields, name)
		}
		sort.Strings(fields)
	}

	want := make([]model.DocID, len(ids))
	copy(want, ids)
	sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })

	var docs []model.Document
	for _, id := range want {
		if len(docs) > 0 && docs[len(docs)-1].ID == id {
			continue
		}
		row, ok := s.RowOf(id)
		if !ok {
			continue
		}
		doc := model.Document{ID: id}
		if includeVector {
			vec, ok, err := s.VectorAt(row)
			if err != nil {
				return nil, err
			}
			if ok {
				doc.Vector = vec
			}
		}
		for _, field := range fields {
			if !s.HasColumn(field) {
				continue
			}
			v, err := s.ValueAt(field, row)
			if err != nil {
				return nil, err
			}
			if !v.IsNull() {
				if doc.Attributes == nil {
					doc.Attributes = make(map[string]model.Value)
				}
				doc.Attributes[field] = v
			}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
