// Package executor wires the eowc package's Window-State/Partition/
// Partition-Cache machinery to concrete collaborators — the durable
// state table, the watermark-epoch source, and the vnode bitmap — and
// drives the executor loop described in the operator's contract:
// recovery, chunk ingestion, and barrier-driven checkpointing.
package executor

import "github.com/ocx/streamwin/internal/eowc"

// Schema describes how to project an input Row into the columns the
// operator's calls need: which columns form the partition key, which
// column is the order key, which columns form the input primary key,
// and the per-call argument projection.
type Schema struct {
	PartitionKeyIndices []int
	OrderKeyIndex       int
	InputPKIndices      []int
	Calls               []eowc.WindowFuncCall
}

// PKIndices returns the column positions forming the table's primary key,
// per base spec §6: partition-key columns, then the order-key column,
// then the input-pk columns, in that order.
func (s Schema) PKIndices() []int {
	out := make([]int, 0, len(s.PartitionKeyIndices)+1+len(s.InputPKIndices))
	out = append(out, s.PartitionKeyIndices...)
	out = append(out, s.OrderKeyIndex)
	out = append(out, s.InputPKIndices...)
	return out
}

func (s Schema) partitionKey(row eowc.Row) string {
	return string(eowc.EncodeKey(row.Project(s.PartitionKeyIndices), nil))
}

func (s Schema) stateKey(row eowc.Row) eowc.StateKey {
	orderVal := row.Values[s.OrderKeyIndex]
	return eowc.NewStateKey(orderVal, row.Project(s.InputPKIndices))
}

func (s Schema) callArgs() [][]int {
	out := make([][]int, len(s.Calls))
	for i, c := range s.Calls {
		if c.Kind.IsAggregate() || c.Kind == eowc.CallLag || c.Kind == eowc.CallLead {
			out[i] = []int{c.ArgIndex}
		} else {
			out[i] = nil
		}
	}
	return out
}

func (s Schema) newPartition() (*eowc.Partition, error) {
	states := make([]eowc.WindowState, len(s.Calls))
	for i, c := range s.Calls {
		st, err := eowc.NewWindowState(c)
		if err != nil {
			return nil, err
		}
		states[i] = st
	}
	return eowc.NewPartition(states, s.callArgs()), nil
}
