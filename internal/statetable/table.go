// Package statetable implements the durable, keyed, range-scannable
// external store the executor loop recovers from and checkpoints into.
// Rows are addressed by (partition key, State Key); a partition's rows
// are always iterated in State Key order, matching the order-key-
// ascending contract the operator depends on.
package statetable

import (
	"context"

	"github.com/ocx/streamwin/internal/eowc"
	"github.com/ocx/streamwin/internal/vnode"
)

// Row is one persisted state-table row.
type Row struct {
	Partition string
	Key       eowc.StateKey
	Values    []eowc.Datum
}

// Table is the state-table handle the executor loop drives. Only InitEpoch
// and Commit take an epoch; writes buffered between two commits belong to
// the epoch the next Commit names.
type Table interface {
	// InitEpoch is called exactly once, right after the first barrier is
	// observed, before any row is read or written.
	InitEpoch(ctx context.Context, epoch uint64) error

	// Commit durably persists everything buffered for epoch and advances
	// the table's visible epoch. Called once per barrier after the first.
	Commit(ctx context.Context, epoch uint64) error

	// Insert buffers a row for the next Commit. Per §9's "insert before
	// append" ordering, callers must Insert before mutating any
	// Window-State so a crash mid-apply never loses a row the state
	// already reflects.
	Insert(ctx context.Context, row Row) error

	// Delete buffers a deletion for the next Commit. Backends that need a
	// full row image to build a delete mutation reconstruct one with
	// every non-key column NULL, as authorized by §9's design note.
	Delete(ctx context.Context, partition string, key eowc.StateKey) error

	// ScanPartition returns every row for one partition key, in State Key
	// order, used by partition recovery.
	ScanPartition(ctx context.Context, partition string) ([]Row, error)

	// UpdateVnodeBitmap applies a new vnode ownership assignment, returning
	// the previous assignment and whether any partition cached under the
	// old assignment may now be stale — true whenever ownership shrank, per
	// base spec §6. Called from the executor's barrier path (§4.4 step 3)
	// when a barrier carries a mutation addressed to this actor.
	UpdateVnodeBitmap(ctx context.Context, mutation vnode.Mutation) (old vnode.Mutation, cacheMayStale bool, err error)

	// PKIndices returns the column positions forming the table's primary
	// key: partition-key columns, then the order-key column, then the
	// input-pk columns, in that order. A nil/empty result means the
	// backend was not configured with a schema to check against, and the
	// executor skips its startup consistency check.
	PKIndices() []int
}
