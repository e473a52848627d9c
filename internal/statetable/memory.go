package statetable

import (
	"context"
	"sort"
	"sync"

	"github.com/ocx/streamwin/internal/eowc"
	"github.com/ocx/streamwin/internal/vnode"
)

// MemoryTable is an in-memory Table, sorted by State Key within each
// partition on every write. Used as the local/dev backend and by the
// scenario tests in executor_scenarios_test.go. Unlike SpannerTable, it
// does not buffer writes: Insert and Delete take effect immediately and are
// visible to the next ScanPartition, and Commit only records the epoch.
type MemoryTable struct {
	mu         sync.Mutex
	epoch      uint64
	partitions map[string][]Row
	pkIndices  []int
	owned      map[uint32]struct{}
}

// NewMemoryTable builds an in-memory Table. pkIndices is optional — pass
// none to skip the executor's startup schema/table PK consistency check,
// as every pre-existing call site in the test suite does.
func NewMemoryTable(pkIndices ...int) *MemoryTable {
	return &MemoryTable{partitions: make(map[string][]Row), pkIndices: pkIndices, owned: make(map[uint32]struct{})}
}

func (t *MemoryTable) InitEpoch(_ context.Context, epoch uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = epoch
	return nil
}

func (t *MemoryTable) Commit(_ context.Context, epoch uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch = epoch
	return nil
}

func (t *MemoryTable) Insert(_ context.Context, row Row) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := t.partitions[row.Partition]
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Key.Less(row.Key) })
	if i < len(rows) && rows[i].Key.Equal(row.Key) {
		rows[i] = row
		return nil
	}
	rows = append(rows, Row{})
	copy(rows[i+1:], rows[i:])
	rows[i] = row
	t.partitions[row.Partition] = rows
	return nil
}

func (t *MemoryTable) Delete(_ context.Context, partition string, key eowc.StateKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := t.partitions[partition]
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Key.Less(key) })
	if i < len(rows) && rows[i].Key.Equal(key) {
		t.partitions[partition] = append(rows[:i], rows[i+1:]...)
	}
	return nil
}

func (t *MemoryTable) ScanPartition(_ context.Context, partition string) ([]Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := t.partitions[partition]
	out := make([]Row, len(rows))
	copy(out, rows)
	return out, nil
}

func (t *MemoryTable) UpdateVnodeBitmap(_ context.Context, mutation vnode.Mutation) (vnode.Mutation, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := make([]uint32, 0, len(t.owned))
	for id := range t.owned {
		old = append(old, id)
	}

	next := make(map[uint32]struct{}, len(mutation.Owned))
	for _, id := range mutation.Owned {
		next[id] = struct{}{}
	}

	cacheMayStale := false
	for id := range t.owned {
		if _, ok := next[id]; !ok {
			cacheMayStale = true
			break
		}
	}

	t.owned = next
	return vnode.Mutation{Owned: old}, cacheMayStale, nil
}

func (t *MemoryTable) PKIndices() []int {
	return t.pkIndices
}
