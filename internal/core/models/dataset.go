package models

import (
	"fmt"
)

type ColumnKind string

const (
	ColumnKindNumeric     ColumnKind = "numeric"
	ColumnKindCategorical ColumnKind = "categorical"
	ColumnKindBoolean     ColumnKind = "boolean"
)

// ColumnMeta carries the inferred type and cardinality for one dataset
// column, produced by the upstream ingestion layer.
type ColumnMeta struct {
	Name        string     `json:"name"`
	Kind        ColumnKind `json:"kind"`
	Cardinality int        `json:"cardinality"`
}

// Dataset is an ordered row/column table. Cell values are kept as raw
// strings exactly as ingested; missing cells are absent from the row map.
// A dataset is immutable once ingested.
type Dataset struct {
	Columns []string              `json:"columns"`
	Rows    []map[string]string   `json:"rows"`
	Meta    map[string]ColumnMeta `json:"meta,omitempty"`
}

func (d *Dataset) NumRows() int {
	return len(d.Rows)
}

// HasColumn reports whether the dataset declares the given column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ColumnKindOf returns the inferred kind for a column, defaulting to
// categorical when no metadata was supplied.
func (d *Dataset) ColumnKindOf(name string) ColumnKind {
	if d.Meta != nil {
		if meta, ok := d.Meta[name]; ok && meta.Kind != "" {
			return meta.Kind
		}
	}
	return ColumnKindCategorical
}

func (d *Dataset) Validate() error {
	if len(d.Columns) == 0 {
		return NewValidationError("dataset has no columns")
	}
	if len(d.Rows) == 0 {
		return NewValidationError("dataset has no rows")
	}
	return nil
}

type WarningKind string

const (
	WarningRowsDroppedMissingTarget WarningKind = "rows_dropped_missing_target"
	WarningNonNumericFeatureSkipped WarningKind = "non_numeric_feature_skipped"
	WarningUnparseableValueZeroed   WarningKind = "unparseable_value_zeroed"
)

// DataQualityWarning records a non-fatal data issue observed while
// preparing a training run. Warnings are surfaced alongside the run but
// never block it.
type DataQualityWarning struct {
	Kind    WarningKind `json:"kind"`
	Column  string      `json:"column,omitempty"`
	Count   int         `json:"count"`
	Message string      `json:"message"`
}

func (w DataQualityWarning) String() string {
	if w.Column != "" {
		return fmt.Sprintf("%s: column %q (%d occurrences)", w.Message, w.Column, w.Count)
	}
	return fmt.Sprintf("%s (%d occurrences)", w.Message, w.Count)
}
