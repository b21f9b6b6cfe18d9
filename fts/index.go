package fts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/lqhl/elacsym/model"
)

// BM25 parameters.
const (
	k1 = 1.2
	b  = 0.75
)

const (
	indexMagic   = "EFTS"
	indexVersion = 1
)

// ScoredDoc is one full-text hit.
type ScoredDoc struct {
	ID    model.DocID
	Score float32
}

// Builder accumulates one field's documents during segment construction.
type Builder struct {
	analyzer *Analyzer
	cfg      model.FullText

	docIDs   []model.DocID
	docLens  []uint32
	totalLen uint64
	// inverted maps term -> postings in insertion (ordinal) order.
	inverted map[string][]builderPosting
}

type builderPosting struct {
	ordinal uint32
	tf      uint32
}

// NewBuilder creates a Builder for a field with the given analyzer config.
func NewBuilder(cfg model.FullText) (*Builder, error) {
	analyzer, err := NewAnalyzer(cfg)
	if err != nil {
		return nil, err
	}
	return &Builder{
		analyzer: analyzer,
		cfg:      cfg,
		inverted: make(map[string][]builderPosting),
	}, nil
}

// Add indexes one document's field text. Documents must be added in
// ascending id order (segment row order).
func (bd *Builder) Add(id model.DocID, text string) error {
	if n := len(bd.docIDs); n > 0 && bd.docIDs[n-1] >= id {
		return fmt.Errorf("document %d added out of order", id)
	}
	tokens := bd.analyzer.Analyze(text)
	ordinal := uint32(len(bd.docIDs))
	bd.docIDs = append(bd.docIDs, id)
	bd.docLens = append(bd.docLens, uint32(len(tokens)))
	bd.totalLen += uint64(len(tokens))

	tf := make(map[string]uint32, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	for term, count := range tf {
		bd.inverted[term] = append(bd.inverted[term], builderPosting{ordinal: ordinal, tf: count})
	}
	return nil
}

// DocCount returns the number of documents added.
func (bd *Builder) DocCount() int { return len(bd.docIDs) }

// Flush serializes the index into its immutable blob. Terms are written
// in sorted order so the blob is deterministic.
func (bd *Builder) Flush() ([]byte, error) {
	buf := make([]byte, 0, 4096)
	buf = append(buf, indexMagic...)
	buf = append(buf, indexVersion)
	buf = appendFullText(buf, bd.cfg)

	n := len(bd.docIDs)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n))
	buf = binary.LittleEndian.AppendUint64(buf, bd.totalLen)
	for i := 0; i < n; i++ {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(bd.docIDs[i]))
		buf = binary.LittleEndian.AppendUint32(buf, bd.docLens[i])
	}

	terms := make([]string, 0, len(bd.inverted))
	for term := range bd.inverted {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(terms)))
	for _, term := range terms {
		postings := bd.inverted[term]
		bm := roaring.New()
		for _, p := range postings {
			bm.Add(p.ordinal)
		}
		bmBytes, err := bm.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal postings for %q: %w", term, err)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(term)))
		buf = append(buf, term...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(postings)))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(bmBytes)))
		buf = append(buf, bmBytes...)
		// Term frequencies aligned with ascending-ordinal bitmap order;
		// postings were appended in ascending ordinal order already.
		for _, p := range postings {
			buf = binary.LittleEndian.AppendUint32(buf, p.tf)
		}
	}
	return buf, nil
}

func appendFullText(buf []byte, cfg model.FullText) []byte {
	lang, _ := ParseLanguage(cfg.Language)
	buf = append(buf, byte(lang))
	var flags byte
	if cfg.Stemming {
		flags |= 1
	}
	if cfg.RemoveStopwords {
		flags |= 2
	}
	if cfg.CaseSensitive {
		flags |= 4
	}
	if cfg.ASCIIFolding {
		flags |= 8
	}
	buf = append(buf, flags)
	maxLen := cfg.MaxTokenLength
	if maxLen <= 0 {
		maxLen = DefaultMaxTokenLength
	}
	return binary.LittleEndian.AppendUint16(buf, uint16(maxLen))
}

func readFullText(data []byte) (model.FullText, int, error) {
	if len(data) < 4 {
		return model.FullText{}, 0, errors.New("full-text config truncated")
	}
	lang := Language(data[0])
	flags := data[1]
	maxLen := binary.LittleEndian.Uint16(data[2:])
	return model.FullText{
		Enabled:         true,
		Language:        lang.Code(),
		Stemming:        flags&1 != 0,
		RemoveStopwords: flags&2 != 0,
		CaseSensitive:   flags&4 != 0,
		ASCIIFolding:    flags&8 != 0,
		MaxTokenLength:  int(maxLen),
	}, 4, nil
}

// Reader answers BM25 queries over a flushed field index.
type Reader struct {
	analyzer *Analyzer
	docIDs   []model.DocID
	docLens  []uint32
	totalLen uint64
	terms    map[string]termPostings
}

type termPostings struct {
	bitmap *roaring.Bitmap
	tfs    []uint32
}

// OpenReader parses a flushed index blob.
func OpenReader(data []byte) (*Reader, error) {
	if len(data) < 5 || string(data[:4]) != indexMagic {
		return nil, errors.New("not a full-text index blob")
	}
	if data[4] != indexVersion {
		return nil, fmt.Errorf("unsupported full-text index version %d", data[4])
	}
	cfg, n, err := readFullText(data[5:])
	if err != nil {
		return nil, err
	}
	analyzer, err := NewAnalyzer(cfg)
	if err != nil {
		return nil, err
	}
	off := 5 + n

	need := func(want int) error {
		if len(data)-off < want {
			return errors.New("full-text index blob truncated")
		}
		return nil
	}

	if err := need(12); err != nil {
		return nil, err
	}
	docCount := int(binary.LittleEndian.Uint32(data[off:]))
	totalLen := binary.LittleEndian.Uint64(data[off+4:])
	off += 12

	r := &Reader{
		analyzer: analyzer,
		docIDs:   make([]model.DocID, docCount),
		docLens:  make([]uint32, docCount),
		totalLen: totalLen,
		terms:    make(map[string]termPostings),
	}
	if err := need(docCount * 12); err != nil {
		return nil, err
	}
	for i := 0; i < docCount; i++ {
		r.docIDs[i] = model.DocID(binary.LittleEndian.Uint64(data[off:]))
		r.docLens[i] = binary.LittleEndian.Uint32(data[off+8:])
		off += 12
	}

	if err := need(4); err != nil {
		return nil, err
	}
	termCount := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4
	for t := 0; t < termCount; t++ {
		if err := need(4); err != nil {
			return nil, err
		}
		termLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if err := need(termLen + 8); err != nil {
			return nil, err
		}
		term := string(data[off : off+termLen])
		off += termLen
		df := int(binary.LittleEndian.Uint32(data[off:]))
		bmLen := int(binary.LittleEndian.Uint32(data[off+4:]))
		off += 8
		if err := need(bmLen + df*4); err != nil {
			return nil, err
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data[off : off+bmLen]); err != nil {
			return nil, fmt.Errorf("postings for %q: %w", term, err)
		}
		off += bmLen
		tfs := make([]uint32, df)
		for i := range tfs {
			tfs[i] = binary.LittleEndian.Uint32(data[off:])
			off += 4
		}
		r.terms[term] = termPostings{bitmap: bm, tfs: tfs}
	}
	return r, nil
}

// DocCount returns the number of indexed documents.
func (r *Reader) DocCount() int { return len(r.docIDs) }

// idf is log(1 + (N - n + 0.5) / (n + 0.5)).
func (r *Reader) idf(df int) float64 {
	N := float64(len(r.docIDs))
	n := float64(df)
	return math.Log(1 + (N-n+0.5)/(n+0.5))
}

// Search scores the query with BM25 and returns the topK hits, best
// first. Ties break on ascending id for determinism.
func (r *Reader) Search(query string, topK int) ([]ScoredDoc, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(r.docIDs) == 0 {
		return nil, nil
	}
	tokens := r.analyzer.Analyze(query)
	if len(tokens) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(tokens))
	avgDL := float64(r.totalLen) / float64(len(r.docIDs))
	scores := make(map[uint32]float64)

	for _, term := range tokens {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		tp, ok := r.terms[term]
		if !ok {
			continue
		}
		idf := r.idf(len(tp.tfs))
		it := tp.bitmap.Iterator()
		for i := 0; it.HasNext(); i++ {
			ordinal := it.Next()
			tf := float64(tp.tfs[i])
			docLen := float64(r.docLens[ordinal])
			num := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(docLen/avgDL))
			scores[ordinal] += idf * (num / denom)
		}
	}

	hits := make([]ScoredDoc, 0, len(scores))
	for ordinal, score := range scores {
		hits = append(hits, ScoredDoc{ID: r.docIDs[ordinal], Score: float32(score)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}
