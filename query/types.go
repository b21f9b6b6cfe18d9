package query

import (
	"encoding/json"
	"fmt"

	"github.com/lqhl/elacsym/filter"
	"github.com/lqhl/elacsym/model"
)

// MaxTopK bounds the requested result count.
const MaxTopK = 1200

// DefaultTopK applies when the request leaves top_k unset.
const DefaultTopK = 10

// RerankMode names the second retrieval stage.
type RerankMode string

const (
	RerankQuantized RerankMode = "quantized"
	RerankNone      RerankMode = "none"
	RerankExact     RerankMode = "exact"
)

// ANNParams are the per-request overrides for the vector path.
type ANNParams struct {
	// NProbeRatio sets probe_fraction: nprobe = round(ratio * K).
	NProbeRatio float64 `json:"nprobe_ratio,omitempty"`
	// RerankScale multiplies top_k to size the rerank shortlist.
	RerankScale int `json:"rerank_scale,omitempty"`
	// CoarseBits and RerankBits are accepted for forward compatibility;
	// the current engine builds 1-bit coarse and 8-bit rerank codes.
	CoarseBits int        `json:"coarse_bits,omitempty"`
	RerankBits int        `json:"rerank_bits,omitempty"`
	RerankMode RerankMode `json:"rerank_mode,omitempty"`
}

// FullTextQuery is either single-field ({field, query, weight}) or
// multi-field ({fields, query, weights}).
type FullTextQuery struct {
	Fields  []string
	Query   string
	Weights map[string]float32
}

// Weight returns the effective weight for a field (default 1.0).
func (q *FullTextQuery) Weight(field string) float32 {
	if w, ok := q.Weights[field]; ok {
		return w
	}
	return 1.0
}

type fullTextJSON struct {
	Field   string             `json:"field,omitempty"`
	Fields  []string           `json:"fields,omitempty"`
	Query   string             `json:"query"`
	Weight  *float32           `json:"weight,omitempty"`
	Weights map[string]float32 `json:"weights,omitempty"`
}

func (q *FullTextQuery) UnmarshalJSON(data []byte) error {
	var raw fullTextJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Query == "" {
		return fmt.Errorf("full_text requires a query")
	}
	q.Query = raw.Query
	switch {
	case raw.Field != "" && len(raw.Fields) > 0:
		return fmt.Errorf("full_text accepts field or fields, not both")
	case raw.Field != "":
		q.Fields = []string{raw.Field}
		if raw.Weight != nil {
			q.Weights = map[string]float32{raw.Field: *raw.Weight}
		}
	case len(raw.Fields) > 0:
		q.Fields = raw.Fields
		q.Weights = raw.Weights
	default:
		return fmt.Errorf("full_text requires field or fields")
	}
	return nil
}

func (q *FullTextQuery) MarshalJSON() ([]byte, error) {
	if len(q.Fields) == 1 {
		raw := fullTextJSON{Field: q.Fields[0], Query: q.Query}
		if w, ok := q.Weights[q.Fields[0]]; ok {
			raw.Weight = &w
		}
		return json.Marshal(raw)
	}
	return json.Marshal(fullTextJSON{Fields: q.Fields, Query: q.Query, Weights: q.Weights})
}

// Request is the normalized query envelope.
type Request struct {
	Vector            model.Vector   `json:"vector,omitempty"`
	FullText          *FullTextQuery `json:"full_text,omitempty"`
	Filter            *filter.Expr   `json:"filter,omitempty"`
	TopK              int            `json:"top_k,omitempty"`
	IncludeVector     bool           `json:"include_vector,omitempty"`
	IncludeAttributes []string       `json:"include_attributes,omitempty"`
	Consistency       string         `json:"consistency,omitempty"`
	ANN               ANNParams      `json:"ann_params,omitempty"`
	// FusionWeights weighs [vector, full-text] ranks in RRF; both
	// default to 1.0.
	FusionWeights []float32 `json:"fusion_weights,omitempty"`
	// AllowPartial opts into partial results when a segment is
	// unserviceable.
	AllowPartial bool `json:"allow_partial,omitempty"`
}

// Normalize applies defaults and bounds-checks the request.
func (r *Request) Normalize() error {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK < 0 || r.TopK > MaxTopK {
		return fmt.Errorf("top_k must be in [1, %d], got %d", MaxTopK, r.TopK)
	}
	if r.Vector == nil && r.FullText == nil && r.Filter == nil {
		return fmt.Errorf("query requires at least one of vector, full_text, filter")
	}
	switch r.ANN.RerankMode {
	case "", RerankQuantized, RerankNone, RerankExact:
	default:
		return fmt.Errorf("unknown rerank_mode %q", r.ANN.RerankMode)
	}
	return nil
}

// Result is one scored hit.
type Result struct {
	ID         model.DocID            `json:"id"`
	Score      float32                `json:"score"`
	Vector     model.Vector           `json:"vector,omitempty"`
	Attributes map[string]model.Value `json:"attributes,omitempty"`
}

// Response is the ordered result list.
type Response struct {
	Results []Result `json:"results"`
	TookMS  int64    `json:"took_ms"`
}
