package cplscheme

import (
	"github.com/partsim/coupler/mesh"
)

// An Exchange declares one directed data movement between the two
// participants of a scheme. Exchanges execute in declaration order.
type Exchange struct {
	Data *mesh.Data
	Mesh *mesh.Mesh

	// From and To name the sending and receiving participant.
	From string
	To   string

	// Initial exchanges run once during Initialize instead of once per
	// iteration.
	Initial bool
}
