package epoch

import (
	"context"
	"sync/atomic"
)

// LocalCounter is the single-instance Source: an in-process atomic
// counter, for deployments that run exactly one actor replica per
// partition range.
type LocalCounter struct {
	value atomic.Uint64
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{}
}

func (c *LocalCounter) Current(_ context.Context) (uint64, error) {
	return c.value.Load(), nil
}

func (c *LocalCounter) Advance(_ context.Context, epoch uint64) error {
	for {
		cur := c.value.Load()
		if epoch <= cur {
			return nil
		}
		if c.value.CompareAndSwap(cur, epoch) {
			return nil
		}
	}
}
