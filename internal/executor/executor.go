package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ocx/streamwin/internal/epoch"
	"github.com/ocx/streamwin/internal/eowc"
	"github.com/ocx/streamwin/internal/metrics"
	"github.com/ocx/streamwin/internal/statetable"
	"github.com/ocx/streamwin/internal/vnode"
)

// ErrSchemaPKMismatch is returned at startup when the configured Schema's
// primary-key column positions don't match what the state table backend
// was itself configured with, per base spec §6's pk_indices() contract —
// the two describing different primary keys means either the schema or
// the table was misconfigured for this operator instance.
var ErrSchemaPKMismatch = errors.New("executor: schema and state table disagree on primary key indices")

// Executor drives one operator instance's message loop: recovery on
// first touch of a partition, chunk ingestion, and barrier-driven
// checkpointing. Mirrors original_source's executor_inner state machine:
// uninitialized until the first Barrier, then Init-Epoch → running.
type Executor struct {
	id uint64

	schema Schema
	table  statetable.Table
	epoch  epoch.Source
	cache  *eowc.PartitionCache
	vnodes *vnode.Bitmap
	source eowc.MessageSource
	sink   eowc.MessageSink

	metrics *metrics.Metrics
	logger  *slog.Logger

	initialized  bool
	currentEpoch uint64
}

// Option configures optional collaborators that have sensible defaults
// when omitted (matching the teacher's functional-options-light style:
// most constructors here take required args positionally and only the
// genuinely optional ones are fields set after construction).
type Option func(*Executor)

func WithVnodeBitmap(b *vnode.Bitmap) Option {
	return func(e *Executor) { e.vnodes = b }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func WithCacheSize(maxPartitions int) Option {
	return func(e *Executor) { e.cache = eowc.NewPartitionCache(maxPartitions) }
}

// New constructs an Executor. id is a caller-assigned identity, formatted
// in hex by ID(), matching original_source's executor identity string.
func New(id uint64, schema Schema, table statetable.Table, epochSrc epoch.Source, source eowc.MessageSource, sink eowc.MessageSink, opts ...Option) *Executor {
	e := &Executor{
		id:     id,
		schema: schema,
		table:  table,
		epoch:  epochSrc,
		cache:  eowc.NewPartitionCache(0),
		source: source,
		sink:   sink,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns this executor's identity string, used in log attributes and
// metrics labels.
func (e *Executor) ID() string {
	return fmt.Sprintf("EowcOverWindowExecutor %X", e.id)
}

// CachedPartitions reports how many partitions are currently cached,
// mainly useful for tests observing vnode-reassignment cache invalidation.
func (e *Executor) CachedPartitions() int {
	return e.cache.Len()
}

func intSlicesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Run drives the message loop until ctx is canceled or a fatal error
// occurs. Per base spec §7, every error Run returns is fatal: the caller
// is expected to restart the executor from the last committed epoch
// rather than retry in place.
func (e *Executor) Run(ctx context.Context) error {
	if tablePK := e.table.PKIndices(); len(tablePK) > 0 {
		if !intSlicesEqual(tablePK, e.schema.PKIndices()) {
			return eowc.NewContractViolation(ErrSchemaPKMismatch)
		}
	}

	first, err := e.source.Recv(ctx)
	if err != nil {
		return err
	}
	if first.Kind != eowc.MessageBarrier {
		return eowc.NewContractViolation(eowc.ErrNotBarrierFirst)
	}
	if err := e.table.InitEpoch(ctx, first.Barrier.Epoch); err != nil {
		return fmt.Errorf("executor %s: init epoch: %w", e.ID(), err)
	}
	e.currentEpoch = first.Barrier.Epoch
	e.initialized = true
	// Seeds the cache's internal epoch stamp to the init epoch rather than
	// its zero value, so partitions touched during the first interval don't
	// look one epoch staler than they are once the first real barrier
	// evicts against e.currentEpoch below.
	e.cache.UpdateEpoch(first.Barrier.Epoch, 0)
	if err := e.sink.EmitBarrier(ctx, first.Barrier.Epoch); err != nil {
		return err
	}

	for {
		msg, err := e.source.Recv(ctx)
		if err != nil {
			return err
		}
		switch msg.Kind {
		case eowc.MessageWatermark:
			continue
		case eowc.MessageChunk:
			if err := e.applyChunk(ctx, msg.Chunk); err != nil {
				return fmt.Errorf("executor %s: apply chunk: %w", e.ID(), err)
			}
		case eowc.MessageBarrier:
			if err := e.applyBarrier(ctx, msg.Barrier); err != nil {
				return fmt.Errorf("executor %s: apply barrier: %w", e.ID(), err)
			}
		}
	}
}

// ReactToVnodeUpdate applies an external vnode reassignment to the local
// bitmap and, when the state table reports the cache may now be stale
// (base spec §6's cache_may_stale), drops every cached partition: one this
// replica no longer owns must not keep serving from a stale cache entry,
// and one newly owned needs to recover from scratch rather than trust an
// empty Partition.
func (e *Executor) ReactToVnodeUpdate(owned []uint32, cacheMayStale bool) {
	if e.vnodes != nil {
		e.vnodes.Update(owned)
	}
	if !cacheMayStale {
		return
	}
	e.cache.Clear()
	if e.metrics != nil {
		e.metrics.SetPartitionsCached(e.ID(), 0)
	}
	e.logger.Info("vnode bitmap changed, partition cache cleared", slog.String("executor", e.ID()))
}

// ensureCached returns the cached Partition for a partition key,
// recovering it from the state table on a cache miss. Grounded on
// original_source's ensure_key_in_cache: scan, replay, discard already-
// emitted windows, insert into the cache — in that order, before any
// live row is appended.
func (e *Executor) ensureCached(ctx context.Context, partitionKey string) (*eowc.Partition, error) {
	if p, ok := e.cache.Get(partitionKey); ok {
		return p, nil
	}

	// recoveryID correlates the scan/replay/discard sequence of one
	// recovery across log lines, the way a handshake service tags a session
	// with one ID for its whole lifetime.
	recoveryID := uuid.New().String()
	start := time.Now()
	e.logger.Debug("partition recovery started", slog.String("recovery_id", recoveryID), slog.String("partition", partitionKey))

	rows, err := e.table.ScanPartition(ctx, partitionKey)
	if err != nil {
		return nil, err
	}

	part, err := e.schema.newPartition()
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := part.Append(r.Key, eowc.Row{Values: r.Values}); err != nil {
			return nil, err
		}
	}
	if _, err := part.DiscardReady(); err != nil {
		return nil, err
	}

	e.cache.Put(partitionKey, part)
	if e.metrics != nil {
		e.metrics.RecoveryDuration.WithLabelValues(e.ID()).Observe(time.Since(start).Seconds())
		e.metrics.SetPartitionsCached(e.ID(), e.cache.Len())
	}
	e.logger.Debug("partition recovered",
		slog.String("recovery_id", recoveryID),
		slog.String("partition", partitionKey),
		slog.Int("rows", len(rows)))
	return part, nil
}

// applyChunk ingests every row of a Chunk, draining and emitting every
// window that becomes ready, and deleting state-table rows no
// Window-State will reference again. Grounded on original_source's
// apply_chunk: insert into the state table *before* appending to the
// Window-States, so a crash between the two never loses a row the
// in-memory state already reflects.
func (e *Executor) applyChunk(ctx context.Context, chunk *eowc.Chunk) error {
	for _, row := range chunk.Rows {
		orderVal := row.Values[e.schema.OrderKeyIndex]
		if orderVal.IsNull() {
			return eowc.NewContractViolation(eowc.ErrOrderKeyNull)
		}

		partitionKey := e.schema.partitionKey(row)
		if e.vnodes != nil && !e.vnodes.OwnsPartition(partitionKey) {
			continue
		}

		part, err := e.ensureCached(ctx, partitionKey)
		if err != nil {
			return err
		}

		key := e.schema.stateKey(row)
		if err := e.table.Insert(ctx, statetable.Row{Partition: partitionKey, Key: key, Values: row.Values}); err != nil {
			return err
		}
		if err := part.Append(key, row); err != nil {
			return err
		}
		if e.metrics != nil {
			e.metrics.ObserveIngested(e.ID(), 1)
		}

		results, err := part.DrainReady()
		if err != nil {
			return err
		}
		deleted := 0
		for _, r := range results {
			if err := e.sink.EmitRow(ctx, r.Row, r.Outputs); err != nil {
				return err
			}
			// Each row's evict hint is applied on its own, never merged
			// with another row's: two rows draining from the same chunk
			// can have disjoint evictable key sets, and intersecting them
			// would silently drop a legitimate eviction.
			if keys, ok := r.Hint.CanEvict(); ok && len(keys) > 0 {
				for k := range keys {
					if err := e.table.Delete(ctx, partitionKey, k); err != nil {
						return err
					}
				}
				deleted += len(keys)
			}
		}
		if e.metrics != nil && len(results) > 0 {
			e.metrics.ObserveEmitted(e.ID(), len(results))
		}
		if e.metrics != nil && deleted > 0 {
			e.metrics.ObserveStateTableDeletes(e.ID(), deleted)
		}
	}
	return nil
}

// applyBarrier commits the state table, advances the watermark epoch,
// evicts stale cache entries, and forwards the barrier downstream.
func (e *Executor) applyBarrier(ctx context.Context, barrier *eowc.Barrier) error {
	start := time.Now()
	if err := e.table.Commit(ctx, barrier.Epoch); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.CheckpointDuration.WithLabelValues(e.ID()).Observe(time.Since(start).Seconds())
	}

	if err := e.epoch.Advance(ctx, barrier.Epoch); err != nil {
		return err
	}
	// The low-water threshold is the epoch that's just ending, not the one
	// this barrier opens: a partition touched any time during that epoch
	// must survive this barrier and only go stale if it sees a whole epoch
	// pass untouched.
	e.cache.UpdateEpoch(barrier.Epoch, e.currentEpoch)
	if e.metrics != nil {
		e.metrics.SetPartitionsCached(e.ID(), e.cache.Len())
	}

	// Base spec §4.4 step 3: a barrier may carry a vnode-bitmap mutation
	// addressed to this actor. Applying it against the state table first
	// gets the authoritative cacheMayStale verdict, which is what actually
	// decides whether the partition cache needs a full invalidation pass.
	if barrier.Mutation != nil {
		_, cacheMayStale, err := e.table.UpdateVnodeBitmap(ctx, *barrier.Mutation)
		if err != nil {
			return err
		}
		e.ReactToVnodeUpdate(barrier.Mutation.Owned, cacheMayStale)
	}

	e.currentEpoch = barrier.Epoch
	e.logger.Info("barrier committed", slog.String("executor", e.ID()), slog.Uint64("epoch", barrier.Epoch))
	return e.sink.EmitBarrier(ctx, barrier.Epoch)
}
