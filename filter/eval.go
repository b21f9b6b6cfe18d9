package filter

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/lqhl/elacsym/model"
)

// SegmentData is what evaluation needs from one segment: its row count,
// the filter index for indexed attributes, and a column scan fallback for
// everything else.
type SegmentData interface {
	RowCount() int
	// AttrIndex returns the filter index for an indexed attribute, or
	// ok=false when the attribute has no index in this segment.
	AttrIndex(field string) (*AttrIndex, bool, error)
	// Column decodes all rows of one attribute column.
	Column(field string) ([]model.Value, error)
}

// Evaluate computes the bitmap of row positions satisfying the
// expression over one segment.
func Evaluate(e *Expr, seg SegmentData) (*roaring.Bitmap, error) {
	if !e.IsLeaf() {
		if len(e.Conditions) == 0 {
			return nil, fmt.Errorf("filter composite %q has no conditions", e.Logic)
		}
		out, err := Evaluate(e.Conditions[0], seg)
		if err != nil {
			return nil, err
		}
		for _, c := range e.Conditions[1:] {
			bm, err := Evaluate(c, seg)
			if err != nil {
				return nil, err
			}
			if e.Logic == "and" {
				out.And(bm)
			} else {
				out.Or(bm)
			}
		}
		return out, nil
	}

	ix, ok, err := seg.AttrIndex(e.Field)
	if err != nil {
		return nil, err
	}
	if ok {
		return ix.Eval(e.Operator, e.Value)
	}
	return scanColumn(e, seg)
}

// scanColumn is the unindexed fallback: decode the one relevant column
// and test the leaf per row.
func scanColumn(e *Expr, seg SegmentData) (*roaring.Bitmap, error) {
	values, err := seg.Column(e.Field)
	if err != nil {
		return nil, err
	}
	out := roaring.New()
	attrs := make(map[string]model.Value, 1)
	for row, v := range values {
		attrs[e.Field] = v
		if matchLeaf(e, attrs[e.Field]) {
			out.Add(uint32(row))
		}
	}
	return out, nil
}

// EstimateSelectivity returns an upper bound on surviving rows per
// segment, from bitmap cardinalities and range stats. Unindexed leaves
// estimate as the full row count (a scan tells us nothing in advance).
func EstimateSelectivity(e *Expr, seg SegmentData) int {
	rows := seg.RowCount()
	if !e.IsLeaf() {
		if e.Logic == "and" {
			est := rows
			for _, c := range e.Conditions {
				if s := EstimateSelectivity(c, seg); s < est {
					est = s
				}
			}
			return est
		}
		est := 0
		for _, c := range e.Conditions {
			est += EstimateSelectivity(c, seg)
		}
		if est > rows {
			est = rows
		}
		return est
	}

	ix, ok, err := seg.AttrIndex(e.Field)
	if err != nil || !ok {
		return rows
	}
	switch e.Operator {
	case OpEq, OpContains:
		return ix.EstimateEq(e.Value)
	case OpContainsAny:
		if e.Value.Kind != model.KindStringArray {
			return rows
		}
		est := 0
		for _, s := range e.Value.A {
			est += ix.EstimateEq(model.String(s))
		}
		if est > rows {
			est = rows
		}
		return est
	case OpLt, OpLte, OpGt, OpGte:
		if bound, ok := e.Value.AsFloat(); ok {
			return int(ix.evalRange(e.Operator, bound).GetCardinality())
		}
		return rows
	default:
		return rows
	}
}
