package encoding

import (
	"math/rand"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/exchron/exchron-engine/internal/core/models"
	"github.com/exchron/exchron-engine/pkg/logger"
)

// Prepared is everything a trainer needs from a raw dataset: the encoded
// matrix with its parallel label vector, the stratified train/validation
// index split, the reusable encoding record, and any data-quality
// warnings collected along the way.
type Prepared struct {
	Matrix       *mat.Dense
	Labels       []int
	TrainIndices []int
	ValIndices   []int
	Info         *EncodingInfo
	Warnings     []models.DataQualityWarning
}

type column struct {
	name    string
	kind    models.ColumnKind
	raw     []string
	missing []bool
}

// Prepare turns a raw dataset plus the configured column selection into
// numeric training material. Rows without a target value are dropped
// with a warning. For the numeric tree engine, selected columns that are
// not numeric are excluded with a warning rather than an error; the run
// only fails when nothing usable remains. The split shuffle draws from
// the caller's RNG so a seeded run stays reproducible end to end.
func Prepare(ds *models.Dataset, cfg models.TrainingConfig, rng *rand.Rand) (*Prepared, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if !ds.HasColumn(cfg.TargetColumn) {
		return nil, models.NewValidationError("target column %q not found in dataset", cfg.TargetColumn)
	}
	for _, name := range cfg.SelectedFeatures {
		if !ds.HasColumn(name) {
			return nil, models.NewValidationError("feature column %q not found in dataset", name)
		}
	}

	log := logger.WithComponent("encoder")
	var warnings []models.DataQualityWarning

	// The tree engine consumes numeric columns only; other kinds stay
	// available for the delegated backend.
	numericOnly := cfg.ModelKind == "" || cfg.ModelKind == models.ModelKindRandomForest
	var usable []string
	for _, name := range cfg.SelectedFeatures {
		kind := ds.ColumnKindOf(name)
		if numericOnly && kind != models.ColumnKindNumeric {
			warnings = append(warnings, models.DataQualityWarning{
				Kind:    models.WarningNonNumericFeatureSkipped,
				Column:  name,
				Count:   1,
				Message: "non-numeric feature excluded from tree training",
			})
			continue
		}
		usable = append(usable, name)
	}
	if len(usable) == 0 {
		return nil, models.NewValidationError("no usable numeric feature columns selected")
	}

	// Rows with a missing or blank target are unusable for supervised
	// training.
	var kept []int
	for i, row := range ds.Rows {
		if strings.TrimSpace(row[cfg.TargetColumn]) == "" {
			continue
		}
		kept = append(kept, i)
	}
	if dropped := len(ds.Rows) - len(kept); dropped > 0 {
		warnings = append(warnings, models.DataQualityWarning{
			Kind:    models.WarningRowsDroppedMissingTarget,
			Column:  cfg.TargetColumn,
			Count:   dropped,
			Message: "rows dropped for missing target value",
		})
	}
	if cfg.ImputeStrategy == models.ImputeDrop {
		kept = dropIncompleteRows(ds, kept, usable)
	}
	if len(kept) == 0 {
		return nil, models.NewValidationError("no rows left after cleaning")
	}

	// Class labels take their ids in first-seen order over the cleaned
	// rows; every downstream tie-break depends on this order staying
	// stable.
	classIndex := make(map[string]int)
	var classes []string
	labels := make([]int, len(kept))
	for i, rowIdx := range kept {
		value := strings.TrimSpace(ds.Rows[rowIdx][cfg.TargetColumn])
		id, ok := classIndex[value]
		if !ok {
			id = len(classes)
			classIndex[value] = id
			classes = append(classes, value)
		}
		labels[i] = id
	}
	if len(classes) < 2 {
		return nil, models.NewValidationError("target column %q has fewer than 2 distinct values", cfg.TargetColumn)
	}

	info := &EncodingInfo{Classes: classes}
	numRows := len(kept)
	flat := make([]float64, numRows*len(usable))

	for j, name := range usable {
		col := column{name: name, kind: ds.ColumnKindOf(name)}
		col.raw = make([]string, numRows)
		col.missing = make([]bool, numRows)
		for i, rowIdx := range kept {
			value, ok := ds.Rows[rowIdx][name]
			value = strings.TrimSpace(value)
			col.raw[i] = value
			col.missing[i] = !ok || value == ""
		}

		encoded, colEnc, badParses := encodeColumn(&col, cfg)
		if badParses > 0 {
			warnings = append(warnings, models.DataQualityWarning{
				Kind:    models.WarningUnparseableValueZeroed,
				Column:  name,
				Count:   badParses,
				Message: "unparseable numeric values coerced to 0",
			})
		}

		if cfg.Normalize && col.kind == models.ColumnKindNumeric {
			normalizeColumn(encoded, &colEnc)
		}

		for i, v := range encoded {
			flat[i*len(usable)+j] = v
		}
		info.Columns = append(info.Columns, colEnc)
	}

	trainIdx, valIdx := stratifiedSplit(labels, len(classes), cfg.TrainSplit, rng)
	if len(trainIdx) == 0 {
		return nil, models.NewValidationError("training partition is empty")
	}

	log.Debug().
		Int("rows", numRows).
		Int("features", len(usable)).
		Int("classes", len(classes)).
		Int("train_rows", len(trainIdx)).
		Int("val_rows", len(valIdx)).
		Msg("Dataset prepared")

	return &Prepared{
		Matrix:       mat.NewDense(numRows, len(usable), flat),
		Labels:       labels,
		TrainIndices: trainIdx,
		ValIndices:   valIdx,
		Info:         info,
		Warnings:     warnings,
	}, nil
}

// dropIncompleteRows removes rows missing any usable feature value,
// which is how the drop imputation strategy takes effect when the
// matrix is assembled.
func dropIncompleteRows(ds *models.Dataset, kept []int, usable []string) []int {
	var out []int
	for _, rowIdx := range kept {
		complete := true
		for _, name := range usable {
			value, ok := ds.Rows[rowIdx][name]
			if !ok || strings.TrimSpace(value) == "" {
				complete = false
				break
			}
		}
		if complete {
			out = append(out, rowIdx)
		}
	}
	return out
}

// encodeColumn turns one raw column into floats, imputing missing cells
// per the configured strategy. Mean imputation applies to numeric
// columns only; other kinds fall back to the mode. Returns the encoded
// values, the reusable encoding record, and the number of numeric parse
// failures coerced to 0.
func encodeColumn(col *column, cfg models.TrainingConfig) ([]float64, ColumnEncoding, int) {
	enc := ColumnEncoding{Name: col.name, Kind: col.kind}
	values := make([]float64, len(col.raw))
	badParses := 0

	switch col.kind {
	case models.ColumnKindNumeric:
		var present []float64
		for i, raw := range col.raw {
			if col.missing[i] {
				continue
			}
			v, ok := parseNumeric(raw)
			if !ok {
				badParses++
			}
			values[i] = v
			present = append(present, v)
		}

		if anyMissing(col.missing) {
			var fill float64
			if cfg.ImputeStrategy == models.ImputeMean && len(present) > 0 {
				fill = stat.Mean(present, nil)
			} else if raw, ok := modeValue(col); ok {
				fill, _ = parseNumeric(raw)
			}
			enc.ImputeValue = &fill
			for i := range values {
				if col.missing[i] {
					values[i] = fill
				}
			}
		}

	case models.ColumnKindBoolean:
		for i, raw := range col.raw {
			if !col.missing[i] {
				values[i] = encodeBoolean(raw)
			}
		}
		if anyMissing(col.missing) {
			var fill float64
			if raw, ok := modeValue(col); ok {
				fill = encodeBoolean(raw)
			}
			enc.ImputeValue = &fill
			for i := range values {
				if col.missing[i] {
					values[i] = fill
				}
			}
		}

	case models.ColumnKindCategorical:
		enc.Categories = make(map[string]int)
		var order []string
		for i, raw := range col.raw {
			if col.missing[i] {
				continue
			}
			idx, ok := enc.Categories[raw]
			if !ok {
				idx = len(order)
				enc.Categories[raw] = idx
				order = append(order, raw)
			}
			values[i] = float64(idx)
		}
		if anyMissing(col.missing) {
			var fill float64
			if raw, ok := modeValue(col); ok {
				fill = float64(enc.Categories[raw])
			}
			enc.ImputeValue = &fill
			for i := range values {
				if col.missing[i] {
					values[i] = fill
				}
			}
		}
	}

	return values, enc, badParses
}

// modeValue returns the most frequent non-missing raw value, ties broken
// by first encounter.
func modeValue(col *column) (string, bool) {
	counts := make(map[string]int)
	var order []string
	for i, raw := range col.raw {
		if col.missing[i] {
			continue
		}
		if _, seen := counts[raw]; !seen {
			order = append(order, raw)
		}
		counts[raw]++
	}
	if len(order) == 0 {
		return "", false
	}

	best := order[0]
	maxCount := 0
	for _, value := range order {
		if counts[value] > maxCount {
			maxCount = counts[value]
			best = value
		}
	}
	return best, true
}

// normalizeColumn applies z-scoring in place and records the stats for
// inference-time reuse. A constant column keeps std 1 so the transform
// stays defined.
func normalizeColumn(values []float64, enc *ColumnEncoding) {
	mean, std := stat.MeanStdDev(values, nil)
	if !(std > 0) {
		std = 1
	}
	for i := range values {
		values[i] = (values[i] - mean) / std
	}
	enc.Normalized = true
	enc.Mean = mean
	enc.Std = std
}

// stratifiedSplit partitions row indices so every class lands in both
// sides proportionally: group by label, shuffle within the group, slice
// at the ratio.
func stratifiedSplit(labels []int, numClasses int, ratio float64, rng *rand.Rand) ([]int, []int) {
	groups := make([][]int, numClasses)
	for i, class := range labels {
		groups[class] = append(groups[class], i)
	}

	var train, val []int
	for _, group := range groups {
		rng.Shuffle(len(group), func(i, j int) {
			group[i], group[j] = group[j], group[i]
		})
		cut := int(float64(len(group)) * ratio)
		train = append(train, group[:cut]...)
		val = append(val, group[cut:]...)
	}
	sort.Ints(train)
	sort.Ints(val)
	return train, val
}

func anyMissing(missing []bool) bool {
	for _, m := range missing {
		if m {
			return true
		}
	}
	return false
}

// Subset copies the selected rows of the matrix and label vector into a
// fresh pair, preserving index order.
func Subset(x *mat.Dense, labels []int, indices []int) (*mat.Dense, []int) {
	if len(indices) == 0 {
		return nil, nil
	}
	_, cols := x.Dims()
	out := mat.NewDense(len(indices), cols, nil)
	ys := make([]int, len(indices))
	for i, idx := range indices {
		out.SetRow(i, x.RawRowView(idx))
		ys[i] = labels[idx]
	}
	return out, ys
}
