package eowc

// StateKey identifies one input row within its partition: the row's
// order-key value and the memcomparable encoding of its input primary
// key. Ordered lexicographically on those two fields (order key first),
// matching the append-only, order-key-ascending input contract.
type StateKey struct {
	OrderKey  Datum
	EncodedPK string // memcomparable encoding of input-pk projection
}

// Compare returns -1/0/1 per the usual comparator convention, ordering
// first by OrderKey then by EncodedPK.
func (k StateKey) Compare(other StateKey) int {
	if c := k.OrderKey.Compare(other.OrderKey); c != 0 {
		return c
	}
	switch {
	case k.EncodedPK < other.EncodedPK:
		return -1
	case k.EncodedPK > other.EncodedPK:
		return 1
	default:
		return 0
	}
}

func (k StateKey) Less(other StateKey) bool { return k.Compare(other) < 0 }
func (k StateKey) Equal(other StateKey) bool {
	return k.OrderKey.Kind == other.OrderKey.Kind &&
		k.OrderKey.Compare(other.OrderKey) == 0 &&
		k.EncodedPK == other.EncodedPK
}

// NewStateKey builds a StateKey from a decoded order-key datum and the
// row's projected input-pk columns.
func NewStateKey(orderKey Datum, inputPK []Datum) StateKey {
	return StateKey{
		OrderKey:  orderKey,
		EncodedPK: string(EncodeKey(inputPK, nil)),
	}
}
