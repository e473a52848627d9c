package eowc

import (
	"encoding/binary"
	"math"
)

// OrderDirection controls whether a column's memcomparable encoding
// preserves or reverses typed order.
type OrderDirection uint8

const (
	Ascending OrderDirection = iota
	Descending
)

// NullsOrder controls where NULL sorts relative to non-NULL values of the
// same column, independent of Ascending/Descending.
type NullsOrder uint8

const (
	NullsFirst NullsOrder = iota
	NullsLast
)

// ColumnOrder is one column's contribution to a memcomparable key
// encoding: its sort direction and null placement.
type ColumnOrder struct {
	Direction OrderDirection
	Nulls     NullsOrder
}

// AscNullsFirst is the default used for partition-key, order-key, and
// input-pk projections throughout the EOWC operator: the input contract
// (§3 of the operator spec) only ever requires byte-lexicographic order to
// match ascending typed order within a partition.
var AscNullsFirst = ColumnOrder{Direction: Ascending, Nulls: NullsFirst}

// EncodeKey produces a memory-comparable byte sequence for a projection of
// Datums such that byte-lexicographic order over the output equals typed
// order over the input, per column order. Two encoded keys are equal iff
// the projections are equal.
//
// Encoding scheme per column:
//   - a one-byte tag: 0x00 = NULL, 0x01 = present (tags are flipped for a
//     NullsLast column so NULL still sorts last byte-wise)
//   - Int64: flipped-sign-bit big-endian 8 bytes ("biased" two's
//     complement, so negative values sort before positive ones)
//   - Float64: IEEE-754 bits, sign-flipped for negatives and the sign bit
//     set for positives, then big-endian — the standard memcomparable
//     float trick
//   - String: escaped and terminated the way CockroachDB's ordered key
//     encoding does it — every literal 0x00 byte becomes 0x00 0xFF, and
//     the string ends with a 0x00 0x01 terminator. A length prefix would
//     be simpler but breaks byte order across differing lengths (e.g.
//     "b" sorts before "aa" by a 1-byte-vs-2-byte length prefix, despite
//     "aa" < "b" typographically); the escape scheme instead makes the
//     terminator itself the first point of difference once one string is
//     a prefix of the other, which keeps byte order equal to typed order
//
// Every column's bytes are bitwise-inverted (one's complement, i.e. `^b`)
// as a whole when Direction == Descending, flipping the byte order.
func EncodeKey(values []Datum, orders []ColumnOrder) []byte {
	buf := make([]byte, 0, 9*len(values))
	for i, d := range values {
		order := AscNullsFirst
		if i < len(orders) {
			order = orders[i]
		}
		buf = appendColumn(buf, d, order)
	}
	return buf
}

func appendColumn(buf []byte, d Datum, order ColumnOrder) []byte {
	start := len(buf)

	nullTag, presentTag := byte(0x00), byte(0x01)
	if order.Nulls == NullsLast {
		nullTag, presentTag = byte(0x01), byte(0x00)
	}

	if d.IsNull() {
		buf = append(buf, nullTag)
		if order.Direction == Descending {
			flipRange(buf[start:])
		}
		return buf
	}

	buf = append(buf, presentTag)
	switch d.Kind {
	case KindInt64:
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(d.I)^(1<<63))
		buf = append(buf, tmp[:]...)
	case KindFloat64:
		buf = append(buf, encodeFloatBytes(d.F)...)
	case KindString:
		buf = appendOrderedString(buf, d.S)
	}

	if order.Direction == Descending {
		flipRange(buf[start:])
	}
	return buf
}

// encodeFloatBytes implements the classic memcomparable float encoding:
// for non-negative floats, set the sign bit; for negative floats, flip
// every bit. This makes the big-endian byte order of the result match
// float order, including across the zero boundary.
func encodeFloatBytes(f float64) []byte {
	bits := math.Float64bits(f)
	if math.Signbit(f) {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], bits)
	return out[:]
}

// appendOrderedString appends s using an escape-and-terminate scheme: each
// literal 0x00 byte is escaped as 0x00 0xFF, and the string is closed with
// a 0x00 0x01 terminator. Unescaped bytes compare directly; where one
// string is a strict prefix of another, the terminator (0x01) sorts before
// any continuation byte (0xFF or a literal byte, both >= 0x00), so the
// shorter string correctly sorts first.
func appendOrderedString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == 0x00 {
			buf = append(buf, 0x00, 0xff)
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, 0x00, 0x01)
}

func flipRange(b []byte) {
	for i := range b {
		b[i] = ^b[i]
	}
}
