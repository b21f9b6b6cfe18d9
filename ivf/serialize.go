package ivf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/lqhl/elacsym/model"
	"github.com/lqhl/elacsym/quantization"
)

// Blob formats. The index splits across two objects: vidx.bin carries
// quantizer state, slab codes, and posting blocks; centroids.bin carries
// the centroid matrix so probes can load it independently.
const (
	vidxMagic      = "EVIX"
	centroidsMagic = "ECEN"
	blobVersion    = 1
)

// MarshalCentroids serializes the centroid matrix.
func (ix *Index) MarshalCentroids() []byte {
	buf := make([]byte, 0, 16+len(ix.centroids)*4)
	buf = append(buf, centroidsMagic...)
	buf = append(buf, blobVersion, byte(ix.metric))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ix.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ix.k))
	for _, f := range ix.centroids {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
	}
	return buf
}

// Marshal serializes everything except the centroid matrix.
func (ix *Index) Marshal() []byte {
	coarseBlob := ix.coarse.Marshal()
	fineBlob := ix.fine.Marshal()

	buf := make([]byte, 0, 64+len(coarseBlob)+len(fineBlob)+len(ix.ids)*8+
		len(ix.coarseCodes)*8+len(ix.fineCodes))
	buf = append(buf, vidxMagic...)
	buf = append(buf, blobVersion, byte(ix.metric))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ix.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ix.k))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(ix.ids)))

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(coarseBlob)))
	buf = append(buf, coarseBlob...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(fineBlob)))
	buf = append(buf, fineBlob...)

	for _, id := range ix.ids {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(id))
	}
	for _, w := range ix.coarseCodes {
		buf = binary.LittleEndian.AppendUint64(buf, w)
	}
	buf = append(buf, ix.fineCodes...)

	for c := 0; c < ix.k; c++ {
		blocks := ix.clusters[c].blocks
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(blocks)))
		for _, blk := range blocks {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(blk.firstID))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(blk.count))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(blk.data)))
			buf = append(buf, blk.data...)
		}
	}
	return buf
}

type blobReader struct {
	data []byte
	off  int
}

func (r *blobReader) take(n int) ([]byte, error) {
	if len(r.data)-r.off < n {
		return nil, errors.New("vector index blob truncated")
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *blobReader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *blobReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Open restores an index from its two blobs.
func Open(vidx, centroids []byte) (*Index, error) {
	if len(vidx) < 22 || string(vidx[:4]) != vidxMagic {
		return nil, errors.New("corrupted vector index blob")
	}
	if vidx[4] != blobVersion {
		return nil, fmt.Errorf("unsupported vector index version %d", vidx[4])
	}
	metric := model.Metric(vidx[5])
	r := &blobReader{data: vidx, off: 6}

	dim32, err := r.u32()
	if err != nil {
		return nil, err
	}
	k32, err := r.u32()
	if err != nil {
		return nil, err
	}
	n64, err := r.u64()
	if err != nil {
		return nil, err
	}
	dim, k, n := int(dim32), int(k32), int(n64)

	coarseLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	coarseBlob, err := r.take(int(coarseLen))
	if err != nil {
		return nil, err
	}
	coarse, err := quantization.UnmarshalCoarse(coarseBlob)
	if err != nil {
		return nil, err
	}
	fineLen, err := r.u32()
	if err != nil {
		return nil, err
	}
	fineBlob, err := r.take(int(fineLen))
	if err != nil {
		return nil, err
	}
	fine, err := quantization.UnmarshalFine(fineBlob)
	if err != nil {
		return nil, err
	}

	ix := &Index{
		dim:    dim,
		metric: metric,
		k:      k,
		coarse: coarse,
		fine:   fine,
	}

	idBytes, err := r.take(n * 8)
	if err != nil {
		return nil, err
	}
	ix.ids = make([]model.DocID, n)
	for i := range ix.ids {
		ix.ids[i] = model.DocID(binary.LittleEndian.Uint64(idBytes[i*8:]))
	}

	words := coarse.Words()
	codeBytes, err := r.take(n * words * 8)
	if err != nil {
		return nil, err
	}
	ix.coarseCodes = make([]uint64, n*words)
	for i := range ix.coarseCodes {
		ix.coarseCodes[i] = binary.LittleEndian.Uint64(codeBytes[i*8:])
	}

	fineCodes, err := r.take(n * dim)
	if err != nil {
		return nil, err
	}
	ix.fineCodes = append([]byte(nil), fineCodes...)

	ix.clusters = make([]clusterPostings, k)
	for c := 0; c < k; c++ {
		blockCount, err := r.u32()
		if err != nil {
			return nil, err
		}
		blocks := make([]postingBlock, 0, blockCount)
		for b := uint32(0); b < blockCount; b++ {
			firstID, err := r.u64()
			if err != nil {
				return nil, err
			}
			count, err := r.u32()
			if err != nil {
				return nil, err
			}
			dataLen, err := r.u32()
			if err != nil {
				return nil, err
			}
			data, err := r.take(int(dataLen))
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, postingBlock{
				firstID: model.DocID(firstID),
				count:   int(count),
				data:    append([]byte(nil), data...),
			})
		}
		ix.clusters[c] = clusterPostings{blocks: blocks}
	}

	// Restore the centroid matrix.
	if len(centroids) < 14 || string(centroids[:4]) != centroidsMagic {
		return nil, errors.New("corrupted centroids blob")
	}
	cdim := int(binary.LittleEndian.Uint32(centroids[6:]))
	ck := int(binary.LittleEndian.Uint32(centroids[10:]))
	if cdim != dim || ck != k {
		return nil, fmt.Errorf("centroids blob mismatch: dim %d/%d, k %d/%d", cdim, dim, ck, k)
	}
	want := 14 + k*dim*4
	if len(centroids) < want {
		return nil, errors.New("corrupted centroids blob: matrix truncated")
	}
	ix.centroids = make([]float32, k*dim)
	for i := range ix.centroids {
		ix.centroids[i] = math.Float32frombits(binary.LittleEndian.Uint32(centroids[14+i*4:]))
	}
	return ix, nil
}
