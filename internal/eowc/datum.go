// Package eowc implements the Emit-On-Window-Close over-window operator:
// per-partition window-function state machines, the LRU-bounded partition
// cache sitting in front of the durable state table, and the message types
// the executor loop (package internal/executor) consumes and emits.
package eowc

import "fmt"

// Kind identifies the wire type of a Datum. Only the handful of types the
// window-function evaluators need to compare and arithmetic over are
// supported; the state table is free to carry richer input schemas, but
// only the columns referenced by partition/order/call-argument indices are
// ever decoded into a Datum.
type Kind uint8

const (
	KindNull Kind = iota
	KindInt64
	KindFloat64
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt64:
		return "int64"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Datum is a single typed value from an input row.
type Datum struct {
	Kind Kind
	I    int64
	F    float64
	S    string
}

// NullDatum is the zero-value, type-less null.
var NullDatum = Datum{Kind: KindNull}

func IntDatum(v int64) Datum    { return Datum{Kind: KindInt64, I: v} }
func FloatDatum(v float64) Datum { return Datum{Kind: KindFloat64, F: v} }
func StringDatum(v string) Datum { return Datum{Kind: KindString, S: v} }

func (d Datum) IsNull() bool { return d.Kind == KindNull }

// AsFloat64 coerces an Int64 or Float64 datum to float64, for use by
// aggregate evaluators (Sum/Avg/Min/Max) that accumulate numerically
// regardless of the declared column type.
func (d Datum) AsFloat64() (float64, error) {
	switch d.Kind {
	case KindInt64:
		return float64(d.I), nil
	case KindFloat64:
		return d.F, nil
	default:
		return 0, fmt.Errorf("eowc: cannot use %s datum as a number", d.Kind)
	}
}

// Compare orders two Datums of the same Kind. Used only for StateKey
// comparisons and for RANK/DENSE_RANK tie detection, both of which only
// ever compare same-typed values (the order-key column, or two
// input-pk projections of identical schema).
func (d Datum) Compare(other Datum) int {
	if d.Kind != other.Kind {
		// NULL sorts before everything else (NULLS FIRST), matching the
		// memcomparable encoding convention in encoding.go.
		if d.Kind == KindNull {
			return -1
		}
		if other.Kind == KindNull {
			return 1
		}
		panic(fmt.Sprintf("eowc: comparing incompatible datum kinds %s and %s", d.Kind, other.Kind))
	}
	switch d.Kind {
	case KindNull:
		return 0
	case KindInt64:
		switch {
		case d.I < other.I:
			return -1
		case d.I > other.I:
			return 1
		default:
			return 0
		}
	case KindFloat64:
		switch {
		case d.F < other.F:
			return -1
		case d.F > other.F:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case d.S < other.S:
			return -1
		case d.S > other.S:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Row is a materialized input tuple, indexed by input-schema column
// position. Window-State implementations never see a whole Row; they are
// only ever handed the projection of argument columns relevant to their
// call (see Partition.Append).
type Row struct {
	Values []Datum
}

func (r Row) Project(indices []int) []Datum {
	out := make([]Datum, len(indices))
	for i, idx := range indices {
		out[i] = r.Values[idx]
	}
	return out
}
