package eowc

// EvictHint is the declarative promise a Window-State makes about which
// State Keys it will never reference again. See §4.1: hints compose
// associatively and commutatively — CanEvict intersects, and any
// CannotEvict dominates the merge.
type EvictHint struct {
	canEvict bool
	keys     map[StateKey]struct{} // valid only when canEvict
}

// CannotEvictHint is the neutral "no guarantee" hint.
func CannotEvictHint() EvictHint {
	return EvictHint{canEvict: false}
}

// CanEvictHint returns a hint promising the given keys are safe to evict.
func CanEvictHint(keys []StateKey) EvictHint {
	set := make(map[StateKey]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return EvictHint{canEvict: true, keys: set}
}

// CanEvict reports whether this hint is of the CanEvict variant, and if
// so, the set of evictable keys.
func (h EvictHint) CanEvict() (map[StateKey]struct{}, bool) {
	if !h.canEvict {
		return nil, false
	}
	return h.keys, true
}

// Merge combines two hints: CanEvict(A) ⊕ CanEvict(B) = CanEvict(A ∩ B);
// any CannotEvict dominates.
func (h EvictHint) Merge(other EvictHint) EvictHint {
	if !h.canEvict || !other.canEvict {
		return CannotEvictHint()
	}
	inter := make(map[StateKey]struct{})
	for k := range h.keys {
		if _, ok := other.keys[k]; ok {
			inter[k] = struct{}{}
		}
	}
	return EvictHint{canEvict: true, keys: inter}
}

// MergeAll folds Merge across a slice of hints, matching the "# of evict
// hints = # of window func calls" reduction in the executor loop.
func MergeAll(hints []EvictHint) EvictHint {
	if len(hints) == 0 {
		return CannotEvictHint()
	}
	merged := hints[0]
	for _, h := range hints[1:] {
		merged = merged.Merge(h)
	}
	return merged
}
