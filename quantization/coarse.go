package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/lqhl/elacsym/distance"
	"github.com/lqhl/elacsym/model"
)

// CoarseQuantizer encodes vectors at 1 bit per dimension. Each dimension
// is thresholded at its training mean; codes are packed into uint64 words
// so distance is XOR + popcount. A linear calibration (scale, bias) learned
// during training maps Hamming distance onto the metric's distance scale.
type CoarseQuantizer struct {
	dim        int
	metric     model.Metric
	thresholds []float32
	scale      float32
	bias       float32
	trained    bool
}

// NewCoarseQuantizer creates an untrained quantizer. Before training,
// thresholds are zero (sign quantization) and calibration is identity.
func NewCoarseQuantizer(dim int, metric model.Metric) *CoarseQuantizer {
	return &CoarseQuantizer{
		dim:        dim,
		metric:     metric,
		thresholds: make([]float32, dim),
		scale:      1,
	}
}

// Words returns the number of uint64 words per code.
func (q *CoarseQuantizer) Words() int { return (q.dim + 63) / 64 }

// Dimension returns the expected vector dimension.
func (q *CoarseQuantizer) Dimension() int { return q.dim }

// IsTrained reports whether thresholds and calibration are fitted.
func (q *CoarseQuantizer) IsTrained() bool { return q.trained }

// Train fits per-dimension thresholds to the sample means, then fits the
// linear Hamming-to-distance calibration over deterministic sample pairs.
// Training twice on the same input yields identical state.
func (q *CoarseQuantizer) Train(samples []model.Vector) error {
	if len(samples) == 0 {
		return errors.New("no vectors provided for training")
	}
	for _, v := range samples {
		if len(v) != q.dim {
			return fmt.Errorf("training vector has dimension %d, want %d", len(v), q.dim)
		}
	}

	sums := make([]float64, q.dim)
	for _, v := range samples {
		for d, x := range v {
			sums[d] += float64(x)
		}
	}
	for d := range q.thresholds {
		q.thresholds[d] = float32(sums[d] / float64(len(samples)))
	}

	q.fitCalibration(samples)
	q.trained = true
	return nil
}

// trueDistance is the metric expressed as a distance (lower is better).
func (q *CoarseQuantizer) trueDistance(a, b model.Vector) float32 {
	switch q.metric {
	case model.MetricL2:
		return distance.SquaredL2(a, b)
	default:
		// cosine/dot: negate so lower is better.
		return -distance.Dot(a, b)
	}
}

// fitCalibration runs least squares of true distance against Hamming
// distance over a strided set of sample pairs. Stride selection is
// deterministic so repeated training is idempotent.
func (q *CoarseQuantizer) fitCalibration(samples []model.Vector) {
	n := len(samples)
	if n < 2 {
		q.scale, q.bias = 1, 0
		return
	}
	const maxPairs = 4096
	stride := 1
	if n > 128 {
		stride = n / 128
	}

	var sx, sy, sxx, sxy float64
	var count int
	for i := 0; i < n && count < maxPairs; i += stride {
		for j := i + stride; j < n && count < maxPairs; j += stride {
			h := float64(distance.Hamming(q.Encode(samples[i]), q.Encode(samples[j])))
			d := float64(q.trueDistance(samples[i], samples[j]))
			sx += h
			sy += d
			sxx += h * h
			sxy += h * d
			count++
		}
	}
	if count < 2 {
		q.scale, q.bias = 1, 0
		return
	}
	den := float64(count)*sxx - sx*sx
	if den == 0 {
		q.scale, q.bias = 1, 0
		return
	}
	scale := (float64(count)*sxy - sx*sy) / den
	if scale <= 0 {
		// Degenerate fit; keep ordering by raw Hamming distance.
		q.scale, q.bias = 1, 0
		return
	}
	q.scale = float32(scale)
	q.bias = float32((sy - scale*sx) / float64(count))
}

// Encode packs v into thresholded bits, little-endian within each word.
func (q *CoarseQuantizer) Encode(v model.Vector) []uint64 {
	code := make([]uint64, q.Words())
	for d, x := range v {
		if x >= q.thresholds[d] {
			code[d/64] |= 1 << (d % 64)
		}
	}
	return code
}

// QuerySide transforms a query into its scan-side bit code. The transform
// is the same thresholding as Encode; it exists as a separate entry point
// so callers encode the query once per probe batch.
func (q *CoarseQuantizer) QuerySide(query model.Vector) []uint64 {
	return q.Encode(query)
}

// Estimate maps the Hamming distance between a query-side code and a
// stored code onto the metric's distance scale (lower is better).
func (q *CoarseQuantizer) Estimate(querySide, code []uint64) float32 {
	return q.scale*float32(distance.Hamming(querySide, code)) + q.bias
}

const coarseMagic = "EQC1"

// Marshal serializes the quantizer state.
func (q *CoarseQuantizer) Marshal() []byte {
	buf := make([]byte, 0, 16+q.dim*4)
	buf = append(buf, coarseMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(q.dim))
	buf = append(buf, byte(q.metric))
	if q.trained {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(q.scale))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(q.bias))
	for _, t := range q.thresholds {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(t))
	}
	return buf
}

// UnmarshalCoarse restores a serialized quantizer.
func UnmarshalCoarse(data []byte) (*CoarseQuantizer, error) {
	if len(data) < 18 || string(data[:4]) != coarseMagic {
		return nil, errors.New("corrupted coarse quantizer blob")
	}
	dim := int(binary.LittleEndian.Uint32(data[4:]))
	q := NewCoarseQuantizer(dim, model.Metric(data[8]))
	q.trained = data[9] == 1
	q.scale = math.Float32frombits(binary.LittleEndian.Uint32(data[10:]))
	q.bias = math.Float32frombits(binary.LittleEndian.Uint32(data[14:]))
	if len(data) < 18+dim*4 {
		return nil, errors.New("corrupted coarse quantizer blob: thresholds truncated")
	}
	for d := 0; d < dim; d++ {
		q.thresholds[d] = math.Float32frombits(binary.LittleEndian.Uint32(data[18+d*4:]))
	}
	return q, nil
}
