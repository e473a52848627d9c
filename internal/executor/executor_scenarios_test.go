package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ocx/streamwin/internal/epoch"
	"github.com/ocx/streamwin/internal/eowc"
	"github.com/ocx/streamwin/internal/statetable"
	"github.com/ocx/streamwin/internal/vnode"
)

// This file implements the six literal end-to-end scenarios (S1-S6) named
// by the operator's testable-properties contract, against the real
// Executor loop rather than the bare eowc package primitives exercised
// elsewhere.

// rowNumberSchema is a single-call (ROW_NUMBER) schema over a two-column
// input row: column 0 is the order key and the input primary key, column
// 1 is the partition key. ROW_NUMBER needs no lookahead, so every row
// closes its window on its own append — the simplest possible harness for
// exercising the executor loop end to end.
func rowNumberSchema() Schema {
	return Schema{
		PartitionKeyIndices: []int{1},
		OrderKeyIndex:       0,
		InputPKIndices:      []int{0},
		Calls:               []eowc.WindowFuncCall{{Kind: eowc.CallRowNumber}},
	}
}

func row(orderKey int64, partition string) eowc.Row {
	return eowc.Row{Values: []eowc.Datum{eowc.IntDatum(orderKey), eowc.StringDatum(partition)}}
}

// offsetSchema builds a single-partition LAG(1) or LEAD(1) schema over a
// two-column (order key, value) row, per S1/S2.
func offsetSchema(kind eowc.CallKind) Schema {
	return Schema{
		PartitionKeyIndices: nil,
		OrderKeyIndex:       0,
		InputPKIndices:      []int{0},
		Calls:               []eowc.WindowFuncCall{{Kind: kind, ArgIndex: 1, Offset: 1, Default: eowc.NullDatum}},
	}
}

func valueRow(orderKey int64, value string) eowc.Row {
	return eowc.Row{Values: []eowc.Datum{eowc.IntDatum(orderKey), eowc.StringDatum(value)}}
}

// partitionedRowNumberSchema is S3's schema: (order key, value, partition
// key) columns, ROW_NUMBER partitioned by column 2.
func partitionedRowNumberSchema() Schema {
	return Schema{
		PartitionKeyIndices: []int{2},
		OrderKeyIndex:       0,
		InputPKIndices:      []int{0},
		Calls:               []eowc.WindowFuncCall{{Kind: eowc.CallRowNumber}},
	}
}

func partitionedRow(orderKey int64, value, partition string) eowc.Row {
	return eowc.Row{Values: []eowc.Datum{eowc.IntDatum(orderKey), eowc.StringDatum(value), eowc.StringDatum(partition)}}
}

// harness wires an Executor to an in-process channel transport and runs it
// in the background for the lifetime of a test.
type harness struct {
	exec      *Executor
	msgCh     chan eowc.Message
	rowCh     chan eowc.DrainResult
	barrierCh chan uint64
	runErr    chan error
	cancel    context.CancelFunc
}

func newHarness(t *testing.T, table statetable.Table, epochSrc epoch.Source, schema Schema, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		msgCh:     make(chan eowc.Message),
		rowCh:     make(chan eowc.DrainResult, 64),
		barrierCh: make(chan uint64, 16),
		runErr:    make(chan error, 1),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	allOpts := append([]Option{WithCacheSize(16)}, opts...)
	h.exec = New(1, schema, table, epochSrc,
		eowc.NewChanSource(h.msgCh),
		eowc.NewChanSink(h.rowCh, h.barrierCh),
		allOpts...,
	)
	go func() { h.runErr <- h.exec.Run(ctx) }()
	return h
}

func (h *harness) send(t *testing.T, msg eowc.Message) {
	t.Helper()
	select {
	case h.msgCh <- msg:
	case <-time.After(time.Second):
		t.Fatal("executor did not accept message in time")
	}
}

func (h *harness) expectRow(t *testing.T) eowc.DrainResult {
	t.Helper()
	select {
	case r := <-h.rowCh:
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted row")
		return eowc.DrainResult{}
	}
}

func (h *harness) expectBarrier(t *testing.T) uint64 {
	t.Helper()
	select {
	case e := <-h.barrierCh:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded barrier")
		return 0
	}
}

func (h *harness) stop() {
	h.cancel()
}

func TestExecutorRejectsNonBarrierFirstMessage(t *testing.T) {
	h := newHarness(t, statetable.NewMemoryTable(), epoch.NewLocalCounter(), rowNumberSchema())
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{row(1, "p")}}})

	select {
	case err := <-h.runErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("executor should have failed fatally on a non-barrier first message")
	}
}

func TestExecutorIgnoresWatermarks(t *testing.T) {
	h := newHarness(t, statetable.NewMemoryTable(), epoch.NewLocalCounter(), rowNumberSchema())
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageWatermark, Watermark: &eowc.Watermark{Value: eowc.IntDatum(100)}})
	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{row(1, "p")}}})
	r := h.expectRow(t)
	require.Equal(t, eowc.IntDatum(1), r.Outputs[0])
}

func TestExecutorRejectsNullOrderKey(t *testing.T) {
	h := newHarness(t, statetable.NewMemoryTable(), epoch.NewLocalCounter(), rowNumberSchema())
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{
		Rows: []eowc.Row{{Values: []eowc.Datum{eowc.NullDatum, eowc.StringDatum("p")}}},
	}})

	select {
	case err := <-h.runErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("executor should have failed fatally on a NULL order key")
	}
}

// TestExecutorScenarioS1Lag is scenario S1: LAG(1) over a single
// partition's 4 rows must emit each row's own value plus its
// predecessor's, NULL for the first row.
func TestExecutorScenarioS1Lag(t *testing.T) {
	h := newHarness(t, statetable.NewMemoryTable(), epoch.NewLocalCounter(), offsetSchema(eowc.CallLag))
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{
		valueRow(1, "A"), valueRow(2, "B"), valueRow(3, "C"), valueRow(4, "D"),
	}}})

	wantValues := []string{"A", "B", "C", "D"}
	wantLag := []eowc.Datum{eowc.NullDatum, eowc.StringDatum("A"), eowc.StringDatum("B"), eowc.StringDatum("C")}
	for i := 0; i < 4; i++ {
		r := h.expectRow(t)
		require.Equal(t, eowc.StringDatum(wantValues[i]), r.Row.Values[1], "row %d value", i+1)
		require.Equal(t, wantLag[i], r.Outputs[0], "row %d lag(1)", i+1)
	}
}

// TestExecutorScenarioS2Lead is scenario S2: LEAD(1) over the same 4 rows
// emits only the first 3 — the 4th row's window needs a 5th row that never
// arrives, so it must stay open forever.
func TestExecutorScenarioS2Lead(t *testing.T) {
	h := newHarness(t, statetable.NewMemoryTable(), epoch.NewLocalCounter(), offsetSchema(eowc.CallLead))
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{
		valueRow(1, "A"), valueRow(2, "B"), valueRow(3, "C"), valueRow(4, "D"),
	}}})

	wantValues := []string{"A", "B", "C"}
	wantLead := []string{"B", "C", "D"}
	for i := 0; i < 3; i++ {
		r := h.expectRow(t)
		require.Equal(t, eowc.StringDatum(wantValues[i]), r.Row.Values[1], "row %d value", i+1)
		require.Equal(t, eowc.StringDatum(wantLead[i]), r.Outputs[0], "row %d lead(1)", i+1)
	}

	select {
	case r := <-h.rowCh:
		t.Fatalf("row 4 must never emit, got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestExecutorScenarioS3PartitionedRowNumber is scenario S3: ROW_NUMBER
// partitioned by key, fed as one interleaved chunk, must number each
// partition independently in append order.
func TestExecutorScenarioS3PartitionedRowNumber(t *testing.T) {
	h := newHarness(t, statetable.NewMemoryTable(), epoch.NewLocalCounter(), partitionedRowNumberSchema())
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{
		partitionedRow(1, "a", "X"),
		partitionedRow(1, "b", "Y"),
		partitionedRow(2, "c", "X"),
		partitionedRow(2, "d", "Y"),
	}}})

	type want struct {
		partition string
		value     string
		rowNumber int64
	}
	wants := []want{
		{"X", "a", 1},
		{"Y", "b", 1},
		{"X", "c", 2},
		{"Y", "d", 2},
	}
	for i, w := range wants {
		r := h.expectRow(t)
		require.Equal(t, eowc.StringDatum(w.partition), r.Row.Values[2], "emission %d partition", i)
		require.Equal(t, eowc.StringDatum(w.value), r.Row.Values[1], "emission %d value", i)
		require.Equal(t, eowc.IntDatum(w.rowNumber), r.Outputs[0], "emission %d row_number", i)
	}
}

// TestExecutorScenarioS4ChecksPointAndRecovers is scenario S4: rows (1,A)
// and (2,B) are committed durably (mirroring a first executor run that
// ingested them, emitted LAG(1) for both, and committed epoch 1), the
// process then crashes before row 3 is ever made durable. A second
// executor recovers from the same table, observes only the two committed
// rows on replay, discards their already-emitted windows without
// re-emitting them, and continues the sequence from row 3 — so the
// combined output of the two runs equals S1's output exactly once, in
// order.
func TestExecutorScenarioS4ChecksPointAndRecovers(t *testing.T) {
	schema := offsetSchema(eowc.CallLag)
	table := statetable.NewMemoryTable()
	ctx := context.Background()

	require.NoError(t, table.Insert(ctx, statetable.Row{
		Partition: "",
		Key:       eowc.NewStateKey(eowc.IntDatum(1), []eowc.Datum{eowc.IntDatum(1)}),
		Values:    []eowc.Datum{eowc.IntDatum(1), eowc.StringDatum("A")},
	}))
	require.NoError(t, table.Insert(ctx, statetable.Row{
		Partition: "",
		Key:       eowc.NewStateKey(eowc.IntDatum(2), []eowc.Datum{eowc.IntDatum(2)}),
		Values:    []eowc.Datum{eowc.IntDatum(2), eowc.StringDatum("B")},
	}))

	h := newHarness(t, table, epoch.NewLocalCounter(), schema)
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{
		valueRow(3, "C"), valueRow(4, "D"),
	}}})

	r3 := h.expectRow(t)
	require.Equal(t, eowc.StringDatum("C"), r3.Row.Values[1])
	require.Equal(t, eowc.StringDatum("B"), r3.Outputs[0], "row 3 must lag row 2's recovered, un-re-emitted value")

	r4 := h.expectRow(t)
	require.Equal(t, eowc.StringDatum("D"), r4.Row.Values[1])
	require.Equal(t, eowc.StringDatum("C"), r4.Outputs[0])

	select {
	case r := <-h.rowCh:
		t.Fatalf("recovery must not re-emit already-committed rows 1/2, got %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestExecutorRecoversRowNumberAcrossRestart exercises the same recovery
// path as S4 against ROW_NUMBER instead of LAG, since row_number's lack of
// any lookback/lookahead window makes the "continue numbering past what
// was recovered" assertion particularly direct.
func TestExecutorRecoversRowNumberAcrossRestart(t *testing.T) {
	table := statetable.NewMemoryTable()
	schema := rowNumberSchema()
	ctx := context.Background()

	partitionKey := string(eowc.EncodeKey([]eowc.Datum{eowc.StringDatum("p")}, nil))
	require.NoError(t, table.Insert(ctx, statetable.Row{
		Partition: partitionKey,
		Key:       eowc.NewStateKey(eowc.IntDatum(1), []eowc.Datum{eowc.IntDatum(1)}),
		Values:    []eowc.Datum{eowc.IntDatum(1), eowc.StringDatum("p")},
	}))
	require.NoError(t, table.Insert(ctx, statetable.Row{
		Partition: partitionKey,
		Key:       eowc.NewStateKey(eowc.IntDatum(2), []eowc.Datum{eowc.IntDatum(2)}),
		Values:    []eowc.Datum{eowc.IntDatum(2), eowc.StringDatum("p")},
	}))

	h := newHarness(t, table, epoch.NewLocalCounter(), schema)
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{row(3, "p")}}})
	r := h.expectRow(t)
	require.Equal(t, eowc.IntDatum(3), r.Outputs[0], "row_number must continue past the two recovered rows")
}

// TestExecutorScenarioS5BoundedEviction is scenario S5: 10,000 rows
// through LAG(1), whose lookback of 1 row means only the current and
// immediately-preceding row's state-table entries can ever be live at
// once. Every row emits (LAG needs no lookahead), and the durable state
// table never accumulates more than a small, bounded number of rows for
// the partition, regardless of how many rows have streamed through.
func TestExecutorScenarioS5BoundedEviction(t *testing.T) {
	const n = 10000
	table := statetable.NewMemoryTable()
	h := newHarness(t, table, epoch.NewLocalCounter(), offsetSchema(eowc.CallLag))
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	rows := make([]eowc.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = valueRow(int64(i+1), fmt.Sprintf("v%d", i+1))
	}

	emitted := make(chan int, 1)
	go func() {
		count := 0
		for range h.rowCh {
			count++
			if count == n {
				emitted <- count
				return
			}
		}
	}()

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: rows}})

	select {
	case count := <-emitted:
		require.Equal(t, n, count)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for all 10,000 rows to emit")
	}

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 2}})
	require.Equal(t, uint64(2), h.expectBarrier(t))

	tableRows, err := table.ScanPartition(context.Background(), "")
	require.NoError(t, err)
	require.LessOrEqual(t, len(tableRows), 2,
		"state table must only ever retain the current row plus its lookback, not all %d rows seen", n)
}

// distinctVnodePartitions brute-forces two partition-key names that hash
// to different vnode ids under bitmap, so a mutation can target one
// without affecting the other.
func distinctVnodePartitions(t *testing.T, schema Schema, bitmap *vnode.Bitmap) (nameA string, idA uint32, nameB string, idB uint32) {
	t.Helper()
	nameA = "partition-0"
	idA = bitmap.VnodeOf(schema.partitionKey(row(0, nameA)))
	for i := 1; i < 256; i++ {
		n := fmt.Sprintf("partition-%d", i)
		id := bitmap.VnodeOf(schema.partitionKey(row(0, n)))
		if id != idA {
			return nameA, idA, n, id
		}
	}
	t.Fatal("could not find two partition keys hashing to distinct vnode ids")
	return "", 0, "", 0
}

// TestExecutorScenarioS6VnodeReassignment is scenario S6: a barrier mid-
// stream carries a vnode-bitmap mutation that reassigns a partition away
// from this replica. After the barrier, the partition cache must contain
// nothing for a vnode no longer owned — since ReactToVnodeUpdate clears the
// whole cache rather than evicting partition by partition, any ownership
// shrink empties it, and a later row for the still-owned
// partition must recover cleanly and keep numbering correctly.
func TestExecutorScenarioS6VnodeReassignment(t *testing.T) {
	schema := rowNumberSchema()
	table := statetable.NewMemoryTable()
	bitmap := vnode.NewBitmap(4)
	allIDs := []uint32{0, 1, 2, 3}
	bitmap.Update(allIDs)

	nameA, idA, nameB, _ := distinctVnodePartitions(t, schema, bitmap)

	h := newHarness(t, table, epoch.NewLocalCounter(), schema, WithVnodeBitmap(bitmap))
	defer h.stop()

	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 1}})
	require.Equal(t, uint64(1), h.expectBarrier(t))

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{
		row(1, nameA), row(1, nameB),
	}}})
	h.expectRow(t)
	h.expectRow(t)
	require.Equal(t, 2, h.exec.CachedPartitions())

	// This mutation only catches the table's ownership record up with what
	// the bitmap already holds; it must not clear the cache.
	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 2, Mutation: &vnode.Mutation{Owned: allIDs}}})
	require.Equal(t, uint64(2), h.expectBarrier(t))
	require.Equal(t, 2, h.exec.CachedPartitions(), "an ownership update that doesn't shrink must not clear the cache")

	// Re-touch both partitions so the cache's epoch-staleness eviction
	// (a partition untouched for a whole epoch goes cold on its own) can't
	// be mistaken for the vnode-driven clear the next barrier checks for.
	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{
		row(5, nameA), row(5, nameB),
	}}})
	h.expectRow(t)
	h.expectRow(t)
	require.Equal(t, 2, h.exec.CachedPartitions())

	var remaining []uint32
	for _, id := range allIDs {
		if id != idA {
			remaining = append(remaining, id)
		}
	}
	h.send(t, eowc.Message{Kind: eowc.MessageBarrier, Barrier: &eowc.Barrier{Epoch: 3, Mutation: &vnode.Mutation{Owned: remaining}}})
	require.Equal(t, uint64(3), h.expectBarrier(t))
	require.Equal(t, 0, h.exec.CachedPartitions(), "shrinking ownership must clear the whole partition cache")

	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{row(6, nameA)}}})
	h.send(t, eowc.Message{Kind: eowc.MessageChunk, Chunk: &eowc.Chunk{Rows: []eowc.Row{row(6, nameB)}}})

	r := h.expectRow(t)
	require.Equal(t, eowc.IntDatum(3), r.Outputs[0], "the still-owned partition must recover and keep numbering past its two recovered rows")
	require.Equal(t, eowc.StringDatum(nameB), r.Row.Values[1])
}
