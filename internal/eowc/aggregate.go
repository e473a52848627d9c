package eowc

// aggregateEntry is one retained input observation for an aggregate
// call: the row's key and its single projected argument value.
type aggregateEntry struct {
	key StateKey
	val Datum
}

// aggregateState evaluates SUM/COUNT/AVG/MIN/MAX over a ROWS BETWEEN
// frame. It recomputes the aggregate over the buffered frame slice on
// every CurrOutput call rather than maintaining an incremental
// accumulator: frame widths are bounded by construction (finite
// Preceding/Following) except for UnboundedPreceding, where the frame
// only ever grows and the state can never report CanEvict — a direct,
// documented consequence of a cumulative aggregate needing its full
// history.
type aggregateState struct {
	check ascendingCheck
	kind  CallKind
	m     int64 // UnboundedPreceding or a finite, non-negative bound
	n     int64 // finite, non-negative

	buf     []aggregateEntry // buf[0] is absolute index baseIdx
	baseIdx int64
	pos     int64
}

func newAggregateState(call WindowFuncCall) (*aggregateState, error) {
	if call.Frame.Following < 0 {
		return nil, NewContractViolation(ErrUnboundedFollowing)
	}
	return &aggregateState{
		kind: call.Kind,
		m:    call.Frame.Preceding,
		n:    call.Frame.Following,
	}, nil
}

func (s *aggregateState) frameBounds(p int64) (start, end int64) {
	if s.m == UnboundedPreceding {
		start = 0
	} else {
		start = p - s.m
		if start < 0 {
			start = 0
		}
	}
	end = p + s.n
	return
}

func (s *aggregateState) Append(key StateKey, args []Datum) error {
	if err := s.check.observe(key); err != nil {
		return err
	}
	var val Datum
	if len(args) > 0 {
		val = args[0]
	}
	s.buf = append(s.buf, aggregateEntry{key: key, val: val})
	return nil
}

func (s *aggregateState) relPos() (int, bool) {
	idx := s.pos - s.baseIdx
	if idx < 0 || idx >= int64(len(s.buf)) {
		return 0, false
	}
	return int(idx), true
}

func (s *aggregateState) CurrWindow() CurrWindow {
	idx, ok := s.relPos()
	if !ok {
		return CurrWindow{}
	}
	_, end := s.frameBounds(s.pos)
	ready := end < s.baseIdx+int64(len(s.buf))
	return CurrWindow{Key: s.buf[idx].key, IsReady: ready}
}

func (s *aggregateState) CurrOutput() (Datum, error) {
	w := s.CurrWindow()
	if !w.IsReady {
		return NullDatum, NewContractViolation(ErrOutputNotReady)
	}
	start, end := s.frameBounds(s.pos)
	startRel := start - s.baseIdx
	if startRel < 0 {
		startRel = 0
	}
	endRel := end - s.baseIdx
	return s.compute(s.buf[startRel : endRel+1])
}

func (s *aggregateState) compute(slice []aggregateEntry) (Datum, error) {
	switch s.kind {
	case CallCount:
		return IntDatum(int64(len(slice))), nil
	case CallSum, CallAvg:
		var sum float64
		for _, e := range slice {
			f, err := e.val.AsFloat64()
			if err != nil {
				return NullDatum, err
			}
			sum += f
		}
		if s.kind == CallSum {
			return FloatDatum(sum), nil
		}
		if len(slice) == 0 {
			return NullDatum, nil
		}
		return FloatDatum(sum / float64(len(slice))), nil
	case CallMin, CallMax:
		if len(slice) == 0 {
			return NullDatum, nil
		}
		best, err := slice[0].val.AsFloat64()
		if err != nil {
			return NullDatum, err
		}
		for _, e := range slice[1:] {
			f, err := e.val.AsFloat64()
			if err != nil {
				return NullDatum, err
			}
			if (s.kind == CallMin && f < best) || (s.kind == CallMax && f > best) {
				best = f
			}
		}
		return FloatDatum(best), nil
	default:
		return NullDatum, NewContractViolation(ErrUnknownCallKind)
	}
}

func (s *aggregateState) SlideForward() EvictHint {
	s.pos++
	if s.m == UnboundedPreceding {
		return CannotEvictHint()
	}
	newStart, _ := s.frameBounds(s.pos)
	evictCount := newStart - s.baseIdx
	if evictCount < 0 {
		evictCount = 0
	}
	if evictCount > int64(len(s.buf)) {
		evictCount = int64(len(s.buf))
	}
	keys := make([]StateKey, 0, evictCount)
	for i := int64(0); i < evictCount; i++ {
		keys = append(keys, s.buf[i].key)
	}
	s.buf = s.buf[evictCount:]
	s.baseIdx += evictCount
	return CanEvictHint(keys)
}

func (s *aggregateState) EstimatedHeapSize() int64 {
	return int64(len(s.buf)) * 48
}
