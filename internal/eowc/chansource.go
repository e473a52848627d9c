package eowc

import "context"

// ChanSource is the in-process MessageSource implementation used by
// cmd/eowc-worker's local/dev mode and by the scenario tests. Base spec
// §6 treats the upstream executor as an external collaborator whose
// contract we only enumerate; no network transport is invented for it.
type ChanSource struct {
	ch <-chan Message
}

func NewChanSource(ch <-chan Message) *ChanSource {
	return &ChanSource{ch: ch}
}

func (s *ChanSource) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return Message{}, context.Canceled
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// ChanSink is the in-process MessageSink counterpart, collecting emitted
// rows and barrier boundaries onto a channel for a downstream consumer
// or a test to observe.
type ChanSink struct {
	rows     chan<- DrainResult
	barriers chan<- uint64
}

func NewChanSink(rows chan<- DrainResult, barriers chan<- uint64) *ChanSink {
	return &ChanSink{rows: rows, barriers: barriers}
}

func (s *ChanSink) EmitRow(ctx context.Context, row Row, outputs []Datum) error {
	select {
	case s.rows <- DrainResult{Row: row, Outputs: outputs}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChanSink) EmitBarrier(ctx context.Context, epoch uint64) error {
	select {
	case s.barriers <- epoch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
