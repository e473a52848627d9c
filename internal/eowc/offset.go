package eowc

// offsetEntry is one retained input observation: the row's key and its
// single projected argument value.
type offsetEntry struct {
	key StateKey
	val Datum
}

// offsetState backs both LAG (shift < 0) and LEAD (shift > 0). The two
// only differ in which direction of the buffer they read from, so one
// implementation covers both per §4.1's Window-State variants.
type offsetState struct {
	check     ascendingCheck
	shift     int64
	lookback  int64 // max(0, -shift)
	lookahead int64 // max(0, shift)
	def       Datum

	buf     []offsetEntry // buf[0] is absolute index baseIdx
	baseIdx int64
	pos     int64 // absolute index of the row currently awaiting output
}

func newOffsetState(call WindowFuncCall, shift int64) *offsetState {
	s := &offsetState{shift: shift, def: call.Default}
	if shift < 0 {
		s.lookback = -shift
	} else {
		s.lookahead = shift
	}
	return s
}

func (s *offsetState) Append(key StateKey, args []Datum) error {
	if err := s.check.observe(key); err != nil {
		return err
	}
	var val Datum
	if len(args) > 0 {
		val = args[0]
	}
	s.buf = append(s.buf, offsetEntry{key: key, val: val})
	return nil
}

// relPos returns the buffer index of the current row and whether it has
// actually been appended yet (it may not be: see CurrWindow's sentinel
// case, which occurs right after a slide outruns the last append).
func (s *offsetState) relPos() (int, bool) {
	idx := s.pos - s.baseIdx
	if idx < 0 || idx >= int64(len(s.buf)) {
		return 0, false
	}
	return int(idx), true
}

func (s *offsetState) CurrWindow() CurrWindow {
	idx, ok := s.relPos()
	if !ok {
		return CurrWindow{}
	}
	ready := int64(len(s.buf)) > int64(idx)+s.lookahead
	return CurrWindow{Key: s.buf[idx].key, IsReady: ready}
}

func (s *offsetState) CurrOutput() (Datum, error) {
	w := s.CurrWindow()
	if !w.IsReady {
		return NullDatum, NewContractViolation(ErrOutputNotReady)
	}
	idx, _ := s.relPos()
	srcIdx := int64(idx) + s.shift
	if srcIdx < 0 {
		return s.def, nil
	}
	return s.buf[srcIdx].val, nil
}

func (s *offsetState) SlideForward() EvictHint {
	s.pos++
	retainFrom := s.pos - s.lookback
	if retainFrom < s.baseIdx {
		retainFrom = s.baseIdx
	}
	evictCount := retainFrom - s.baseIdx
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

func (s *offsetState) EstimatedHeapSize() int64 {
	return int64(len(s.buf)) * 48
}
