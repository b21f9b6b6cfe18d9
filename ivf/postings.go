package ivf

import (
	"encoding/binary"

	"github.com/lqhl/elacsym/model"
)

// blockBuilder packs (docIdΔ, slab offset Δ) varint pairs into
// block-aligned runs with a light skip header per block.
type blockBuilder struct {
	blockSize int
	blocks    []postingBlock

	cur      []byte
	first    model.DocID
	count    int
	lastID   model.DocID
	lastSlab uint32
}

func newBlockBuilder(blockSize int) *blockBuilder {
	return &blockBuilder{blockSize: blockSize}
}

func (b *blockBuilder) add(id model.DocID, slab uint32) {
	if b.count == 0 {
		b.first = id
		b.cur = binary.AppendUvarint(b.cur, uint64(id))
		b.cur = binary.AppendUvarint(b.cur, uint64(slab))
	} else {
		b.cur = binary.AppendUvarint(b.cur, uint64(id-b.lastID))
		b.cur = binary.AppendUvarint(b.cur, uint64(slab-b.lastSlab))
	}
	b.lastID = id
	b.lastSlab = slab
	b.count++

	if len(b.cur) >= b.blockSize {
		b.seal()
	}
}

func (b *blockBuilder) seal() {
	if b.count == 0 {
		return
	}
	b.blocks = append(b.blocks, postingBlock{
		firstID: b.first,
		count:   b.count,
		data:    b.cur,
	})
	b.cur = nil
	b.count = 0
}

func (b *blockBuilder) finish() []postingBlock {
	b.seal()
	return b.blocks
}

// scan decodes the block, invoking fn for every (id, slab) entry.
// Entries are delta-coded: the first pair is absolute, the rest are
// deltas against the previous entry. Slab offsets within a cluster are
// monotonically increasing by construction.
func (blk *postingBlock) scan(fn func(id model.DocID, slab uint32)) {
	data := blk.data
	var id uint64
	var slab uint64
	for i := 0; i < blk.count; i++ {
		d, n := binary.Uvarint(data)
		if n <= 0 {
			return
		}
		data = data[n:]
		s, n := binary.Uvarint(data)
		if n <= 0 {
			return
		}
		data = data[n:]
		if i == 0 {
			id, slab = d, s
		} else {
			id += d
			slab += s
		}
		fn(model.DocID(id), uint32(slab))
	}
}
