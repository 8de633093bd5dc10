package cplscheme

import (
	"github.com/partsim/coupler/mesh"
)

// A CheckpointHandler lets the embedding solver participate in implicit
// iteration: SaveState is called when a time window starts and RestoreState
// before every retry of a non-converged iteration.
type CheckpointHandler interface {
	SaveState()
	RestoreState()
}

// A Checkpoint captures the values of a set of coupling data at one point
// in time. Restore writes the captured values back; it can be applied any
// number of times and always reproduces the same state.
type Checkpoint struct {
	data  []*mesh.Data
	saved [][]float64
}

// TakeCheckpoint snapshots the current values of the given data.
func TakeCheckpoint(data ...*mesh.Data) *Checkpoint {
	c := &Checkpoint{
		data:  data,
		saved: make([][]float64, len(data)),
	}

	for i, d := range data {
		c.saved[i] = d.Snapshot()
	}

	return c
}

// Restore writes the captured values back into the data.
func (c *Checkpoint) Restore() {
	for i, d := range c.data {
		d.Restore(c.saved[i])
	}
}

// RestoreOne writes back only the captured values of the named data.
func (c *Checkpoint) RestoreOne(name string) {
	for i, d := range c.data {
		if d.Name() == name {
			d.Restore(c.saved[i])
			return
		}
	}

	panic("checkpoint does not hold data " + name)
}

// State returns a copy of the captured values keyed by data name.
func (c *Checkpoint) State() map[string][]float64 {
	state := make(map[string][]float64, len(c.data))
	for i, d := range c.data {
		state[d.Name()] = append([]float64(nil), c.saved[i]...)
	}

	return state
}
