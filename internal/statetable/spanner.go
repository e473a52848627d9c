package statetable

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"

	"github.com/ocx/streamwin/internal/circuitbreaker"
	"github.com/ocx/streamwin/internal/eowc"
	"github.com/ocx/streamwin/internal/vnode"
)

// SpannerTable is the durable Table backend. Grounded on the teacher's
// reputation.SpannerWallet: a stale-read-tolerant ReadOnlyTransaction for
// scans, client.Apply for the mutations buffered until Commit, and
// google.golang.org/grpc/codes to tell "row not found" apart from a
// transport failure.
type SpannerTable struct {
	client    *spanner.Client
	tableName string
	breakers  *circuitbreaker.StateTableBreakers
	logger    *slog.Logger
	pkIndices []int

	mu      sync.Mutex
	pending []*spanner.Mutation
	owned   map[uint32]struct{}
}

// NewSpannerTable dials Cloud Spanner for the given database path. Scans
// and commits go through the scan/commit circuit breakers; Insert and
// Delete only buffer mutations locally. pkIndices is
// optional — pass none to skip the executor's startup schema/table PK
// consistency check. Vnode ownership itself is tracked in-memory per
// replica rather than durably in Spanner: the assignment is externally
// authoritative (base spec's Non-goals exclude the reassignment mechanism
// itself), this table only needs to remember what it last applied so it
// can report cacheMayStale correctly across consecutive barriers.
func NewSpannerTable(ctx context.Context, project, instance, database, tableName string, logger *slog.Logger, pkIndices ...int) (*SpannerTable, error) {
	dbPath := fmt.Sprintf("projects/%s/instances/%s/databases/%s", project, instance, database)
	client, err := spanner.NewClient(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("statetable: failed to create spanner client: %w", err)
	}
	return &SpannerTable{
		client:    client,
		tableName: tableName,
		breakers:  circuitbreaker.NewStateTableBreakers(),
		logger:    logger,
		pkIndices: pkIndices,
		owned:     make(map[uint32]struct{}),
	}, nil
}

func (t *SpannerTable) InitEpoch(_ context.Context, epoch uint64) error {
	t.logger.Info("state table epoch initialized", slog.Uint64("epoch", epoch))
	return nil
}

// Commit flushes every buffered mutation through the commit breaker.
func (t *SpannerTable) Commit(ctx context.Context, epoch uint64) error {
	t.mu.Lock()
	muts := t.pending
	t.pending = nil
	t.mu.Unlock()

	if len(muts) == 0 {
		return nil
	}

	_, err := t.breakers.Commit.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		_, err := t.client.Apply(ctx, muts)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("statetable: commit at epoch %d: %w", epoch, err)
	}
	return nil
}

func (t *SpannerTable) Insert(_ context.Context, row Row) error {
	payload, err := encodeValues(row.Values)
	if err != nil {
		return fmt.Errorf("statetable: encoding row values: %w", err)
	}
	orderKeyValue, err := encodeValues([]eowc.Datum{row.Key.OrderKey})
	if err != nil {
		return fmt.Errorf("statetable: encoding order key: %w", err)
	}
	// OrderKeyEncoded is the memcomparable encoding used purely so
	// Spanner's byte-wise key ordering sorts rows the way the operator
	// needs; OrderKeyValue carries the decodable Datum recovered on scan.
	orderKeyEncoded := eowc.EncodeKey([]eowc.Datum{row.Key.OrderKey}, nil)
	mut := spanner.Insert(t.tableName,
		[]string{"PartitionKey", "OrderKeyEncoded", "InputPkEncoded", "OrderKeyValue", "Values"},
		[]interface{}{row.Partition, orderKeyEncoded, []byte(row.Key.EncodedPK), orderKeyValue, payload},
	)
	t.mu.Lock()
	t.pending = append(t.pending, mut)
	t.mu.Unlock()
	return nil
}

// Delete buffers a spanner.Delete mutation addressed by the row's primary
// key (partition, encoded order key, encoded input pk); no row image is
// needed. Like Insert, it is only applied by the next Commit.
func (t *SpannerTable) Delete(_ context.Context, partition string, key eowc.StateKey) error {
	orderKeyEncoded := eowc.EncodeKey([]eowc.Datum{key.OrderKey}, nil)
	mut := spanner.Delete(t.tableName, spanner.Key{partition, orderKeyEncoded, []byte(key.EncodedPK)})
	t.mu.Lock()
	t.pending = append(t.pending, mut)
	t.mu.Unlock()
	return nil
}

func (t *SpannerTable) ScanPartition(ctx context.Context, partition string) ([]Row, error) {
	result, err := t.breakers.Scan.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		return t.scanPartition(ctx, partition)
	})
	if err != nil {
		if spanner.ErrCode(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("statetable: scan partition %q: %w", partition, err)
	}
	return result.([]Row), nil
}

func (t *SpannerTable) scanPartition(ctx context.Context, partition string) ([]Row, error) {
	roTx := t.client.ReadOnlyTransaction().WithTimestampBound(spanner.MaxStaleness(15 * time.Second))
	defer roTx.Close()

	stmt := spanner.Statement{
		SQL: fmt.Sprintf(`SELECT PartitionKey, InputPkEncoded, OrderKeyValue, Values
			FROM %s WHERE PartitionKey = @partition ORDER BY OrderKeyEncoded, InputPkEncoded`, t.tableName),
		Params: map[string]interface{}{"partition": partition},
	}
	iter := roTx.Query(ctx, stmt)
	defer iter.Stop()

	var rows []Row
	for {
		sr, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var (
			partitionKey  string
			inputPK       []byte
			orderKeyBytes []byte
			payload       []byte
		)
		if err := sr.Columns(&partitionKey, &inputPK, &orderKeyBytes, &payload); err != nil {
			return nil, err
		}
		orderKeyValues, err := decodeValues(orderKeyBytes)
		if err != nil {
			return nil, err
		}
		if len(orderKeyValues) != 1 {
			return nil, fmt.Errorf("statetable: corrupt OrderKeyValue column for partition %q", partition)
		}
		values, err := decodeValues(payload)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Row{
			Partition: partitionKey,
			Key:       eowc.StateKey{OrderKey: orderKeyValues[0], EncodedPK: string(inputPK)},
			Values:    values,
		})
	}
	return rows, nil
}

func (t *SpannerTable) UpdateVnodeBitmap(_ context.Context, mutation vnode.Mutation) (vnode.Mutation, bool, error) {
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
	t.logger.Info("vnode bitmap updated", slog.Int("owned_count", len(next)), slog.Bool("cache_may_stale", cacheMayStale))
	return vnode.Mutation{Owned: old}, cacheMayStale, nil
}

func (t *SpannerTable) PKIndices() []int {
	return t.pkIndices
}

func (t *SpannerTable) Close() error {
	t.client.Close()
	return nil
}

func encodeValues(values []eowc.Datum) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeValues(payload []byte) ([]eowc.Datum, error) {
	var values []eowc.Datum
	if len(payload) == 0 {
		return values, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&values); err != nil {
		return nil, err
	}
	return values, nil
}
