package eowc

import (
	"context"

	"github.com/ocx/streamwin/internal/vnode"
)

// MessageKind tags the three message variants the upstream executor is
// contractually required to send, per §6's external-interfaces contract.
type MessageKind uint8

const (
	MessageChunk MessageKind = iota
	MessageWatermark
	MessageBarrier
)

// Chunk carries one or more fully materialized input rows.
type Chunk struct {
	Rows []Row
}

// Watermark is observed but never acted on: EOWC emits strictly on
// window close, never on watermark advancement (base spec §4.4).
type Watermark struct {
	Value Datum
}

// Barrier delimits an epoch boundary. The first message from upstream
// must be a Barrier (ErrNotBarrierFirst otherwise); every later Barrier
// triggers a commit. Mutation is non-nil when the barrier also carries a
// vnode-bitmap reassignment addressed to this actor (base spec §6's
// `Barrier(epoch, mutation?)`); applying it is base spec §4.4's step 3.
type Barrier struct {
	Epoch    uint64
	Mutation *vnode.Mutation
}

// Message is the upstream sum type.
type Message struct {
	Kind      MessageKind
	Chunk     *Chunk
	Watermark *Watermark
	Barrier   *Barrier
}

// MessageSource is the upstream collaborator the executor loop reads
// from. Recv blocks until a message is available or ctx is canceled.
type MessageSource interface {
	Recv(ctx context.Context) (Message, error)
}

// MessageSink is the downstream collaborator outputs and barriers are
// forwarded to.
type MessageSink interface {
	EmitRow(ctx context.Context, row Row, outputs []Datum) error
	EmitBarrier(ctx context.Context, epoch uint64) error
}
