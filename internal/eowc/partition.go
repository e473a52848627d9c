package eowc

// Partition bundles one partition key's N Window-States with the FIFO
// buffer of input rows those states are currently computing over.
// Grounded on the Rust eowc.rs Partition struct: states advance in
// lock-step, and the curr-row buffer holds exactly the rows that have
// been appended to every state but not yet popped by a drain.
type Partition struct {
	states     []WindowState
	currRowBuf []Row

	// callArgs[i] projects an input Row into the argument columns call i
	// needs, mirroring the per-call argument projection configured at
	// construction.
	callArgs [][]int
}

// NewPartition constructs a Partition from already-built Window-States
// and the argument-column projection each one needs from an input Row.
func NewPartition(states []WindowState, callArgs [][]int) *Partition {
	return &Partition{states: states, callArgs: callArgs}
}

// IsAligned reports whether every Window-State agrees on the current
// window's State Key. §4.2's core invariant: true after construction and
// after every SlideForward call across all N states.
func (p *Partition) IsAligned() bool {
	if len(p.states) == 0 {
		return true
	}
	first := p.states[0].CurrWindow().Key
	for _, s := range p.states[1:] {
		if !s.CurrWindow().Key.Equal(first) {
			return false
		}
	}
	return true
}

// IsReady reports whether every state's current window has every input
// it needs.
func (p *Partition) IsReady() bool {
	for _, s := range p.states {
		if !s.CurrWindow().IsReady {
			return false
		}
	}
	return true
}

// Append feeds one input row's State Key to every Window-State and
// pushes the row onto the current-row buffer. Does not check readiness;
// callers drain with DrainReady after every Append.
func (p *Partition) Append(key StateKey, row Row) error {
	for i, s := range p.states {
		args := row.Project(p.callArgs[i])
		if err := s.Append(key, args); err != nil {
			return err
		}
	}
	p.currRowBuf = append(p.currRowBuf, row)
	return nil
}

// DrainResult is one emitted output row: the original input row extended
// with one value per window function call, in call order, plus the evict
// hint this row's slide produced.
type DrainResult struct {
	Row     Row
	Outputs []Datum
	Hint    EvictHint
}

// DrainReady pops and emits every window that has become fully ready. Each
// row's per-call evict hints are merged with Merge semantics (§4.1:
// CanEvict intersects, CannotEvict dominates) and attached to that row's
// own DrainResult — hints are never merged *across* rows, since two rows
// draining in the same call can have disjoint evictable key sets and
// intersecting them would silently drop a legitimate eviction. Mirrors
// original_source's apply_chunk, which computes and deletes by each row's
// own hint independently rather than accumulating one hint for the whole
// drain loop.
func (p *Partition) DrainReady() ([]DrainResult, error) {
	var results []DrainResult

	for p.IsReady() {
		outputs := make([]Datum, len(p.states))
		for i, s := range p.states {
			out, err := s.CurrOutput()
			if err != nil {
				return results, err
			}
			outputs[i] = out
		}

		hints := make([]EvictHint, len(p.states))
		for i, s := range p.states {
			hints[i] = s.SlideForward()
		}
		rowHint := MergeAll(hints)

		if len(p.currRowBuf) == 0 {
			return results, NewContractViolation(ErrNotAligned)
		}
		row := p.currRowBuf[0]
		p.currRowBuf = p.currRowBuf[1:]

		results = append(results, DrainResult{Row: row, Outputs: outputs, Hint: rowHint})
	}
	return results, nil
}

// DiscardReady is the recovery-time counterpart of DrainReady: it slides
// every already-ready window forward without reading CurrOutput, since
// those outputs were already emitted and committed in a prior epoch. It
// returns one hint per discarded row, for the same reason DrainReady does:
// merging them across rows would intersect disjoint evictable sets and
// silently drop evictions. Grounded on eowc.rs's ensure_key_in_cache
// discard loop.
func (p *Partition) DiscardReady() ([]EvictHint, error) {
	var hints []EvictHint
	for p.IsReady() {
		rowHints := make([]EvictHint, len(p.states))
		for i, s := range p.states {
			rowHints[i] = s.SlideForward()
		}
		if len(p.currRowBuf) == 0 {
			return hints, NewContractViolation(ErrNotAligned)
		}
		p.currRowBuf = p.currRowBuf[1:]
		hints = append(hints, MergeAll(rowHints))
	}
	return hints, nil
}

// EstimatedHeapSize sums the per-state estimates plus the row buffer.
func (p *Partition) EstimatedHeapSize() int64 {
	var total int64
	for _, s := range p.states {
		total += s.EstimatedHeapSize()
	}
	total += int64(len(p.currRowBuf)) * 64
	return total
}
