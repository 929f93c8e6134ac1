package encoding

import (
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/exchron/exchron-engine/internal/core/models"
)

// ColumnEncoding captures how one selected column was turned into a
// number: its kind, the categorical value mapping in first-seen order,
// the normalization stats, and the imputation fill value on the raw
// (pre-normalization) scale. Created once per training run and reused
// verbatim at inference time so the two encodings never diverge.
type ColumnEncoding struct {
	Name        string            `json:"name"`
	Kind        models.ColumnKind `json:"kind"`
	Categories  map[string]int    `json:"categories,omitempty"`
	Normalized  bool              `json:"normalized,omitempty"`
	Mean        float64           `json:"mean,omitempty"`
	Std         float64           `json:"std,omitempty"`
	ImputeValue *float64          `json:"impute_value,omitempty"`
}

// EncodingInfo is the full per-run encoding record: the feature columns
// in matrix order and the class label list in first-seen order.
type EncodingInfo struct {
	Columns []ColumnEncoding `json:"columns"`
	Classes []string         `json:"classes"`
}

func (info *EncodingInfo) FeatureNames() []string {
	names := make([]string, len(info.Columns))
	for i, col := range info.Columns {
		names[i] = col.Name
	}
	return names
}

// EncodeRow encodes one raw row into a full-width feature vector using
// the stored encodings. Missing cells take the stored imputation value,
// unknown categorical values fall back the same way, and unparseable
// numerics coerce to 0 just as they did at training time.
func (info *EncodingInfo) EncodeRow(row map[string]string) []float64 {
	out := make([]float64, len(info.Columns))
	for j := range info.Columns {
		col := &info.Columns[j]
		raw, ok := row[col.Name]
		raw = strings.TrimSpace(raw)

		var value float64
		if !ok || raw == "" {
			value = col.fillValue()
		} else {
			switch col.Kind {
			case models.ColumnKindNumeric:
				value, _ = parseNumeric(raw)
			case models.ColumnKindBoolean:
				value = encodeBoolean(raw)
			case models.ColumnKindCategorical:
				if idx, found := col.Categories[raw]; found {
					value = float64(idx)
				} else {
					value = col.fillValue()
				}
			}
		}

		if col.Normalized {
			value = (value - col.Mean) / col.Std
		}
		out[j] = value
	}
	return out
}

// EncodeRows encodes a batch of raw rows into a dense matrix.
func (info *EncodingInfo) EncodeRows(rows []map[string]string) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, models.NewValidationError("no rows to encode")
	}
	flat := make([]float64, 0, len(rows)*len(info.Columns))
	for _, row := range rows {
		flat = append(flat, info.EncodeRow(row)...)
	}
	return mat.NewDense(len(rows), len(info.Columns), flat), nil
}

func (c *ColumnEncoding) fillValue() float64 {
	if c.ImputeValue != nil {
		return *c.ImputeValue
	}
	return 0
}

// parseNumeric parses a cell to float64, coercing failures to 0. The
// coercion mirrors the training-time behavior; callers that care count
// the failures into a data-quality warning.
func parseNumeric(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// encodeBoolean maps case-insensitive true/1/yes to 1, everything else
// to 0.
func encodeBoolean(raw string) float64 {
	switch strings.ToLower(raw) {
	case "true", "1", "yes":
		return 1
	}
	return 0
}
